package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads operational records owned by the business modules.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type moduleTable struct {
	name   string
	filter string
}

var tables = map[Module]moduleTable{
	ModuleInventory:       {name: "stock_movements", filter: "s.movement_type <> 'TRANSFER'"},
	ModuleStockAdjustment: {name: "stock_adjustments"},
	ModuleSales:           {name: "sales_orders"},
	ModulePayroll:         {name: "payroll_cycles"},
	ModuleManufacturing:   {name: "work_orders"},
	ModulePurchase:        {name: "purchase_orders"},
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// GetStockMovement loads a movement scoped by tenant.
func (r *Repository) GetStockMovement(ctx context.Context, tenantID, id uuid.UUID) (StockMovement, error) {
	var m StockMovement
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, reference, movement_type, status, quantity, unit_cost, occurred_at
FROM stock_movements WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&m.ID, &m.TenantID, &m.Reference, &m.Type, &m.Status, &m.Quantity, &m.UnitCost, &m.OccurredAt)
	if err != nil {
		return StockMovement{}, notFound(err)
	}
	return m, nil
}

// GetStockAdjustment loads an adjustment scoped by tenant.
func (r *Repository) GetStockAdjustment(ctx context.Context, tenantID, id uuid.UUID) (StockAdjustment, error) {
	var a StockAdjustment
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, reference, reason, status, quantity_delta, unit_cost, adjusted_at
FROM stock_adjustments WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&a.ID, &a.TenantID, &a.Reference, &a.Reason, &a.Status, &a.QuantityDelta, &a.UnitCost, &a.AdjustedAt)
	if err != nil {
		return StockAdjustment{}, notFound(err)
	}
	return a, nil
}

// GetSalesOrder loads a sales order scoped by tenant.
func (r *Repository) GetSalesOrder(ctx context.Context, tenantID, id uuid.UUID) (SalesOrder, error) {
	var o SalesOrder
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, doc_number, status, total_amount, order_date
FROM sales_orders WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&o.ID, &o.TenantID, &o.Number, &o.Status, &o.Total, &o.OrderDate)
	if err != nil {
		return SalesOrder{}, notFound(err)
	}
	return o, nil
}

// GetPayrollCycle loads a payroll cycle with its payslips.
func (r *Repository) GetPayrollCycle(ctx context.Context, tenantID, id uuid.UUID) (PayrollCycle, error) {
	var c PayrollCycle
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, period, status, pay_date
FROM payroll_cycles WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&c.ID, &c.TenantID, &c.Period, &c.Status, &c.PayDate)
	if err != nil {
		return PayrollCycle{}, notFound(err)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, employee_ref, gross_pay, net_pay, tax_amount, total_deductions
FROM payslips WHERE cycle_id=$1 ORDER BY employee_ref`, c.ID)
	if err != nil {
		return PayrollCycle{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Payslip
		if err := rows.Scan(&p.ID, &p.EmployeeRef, &p.Gross, &p.Net, &p.Tax, &p.TotalDeductions); err != nil {
			return PayrollCycle{}, err
		}
		c.Payslips = append(c.Payslips, p)
	}
	return c, rows.Err()
}

// GetWorkOrder loads a work order with materials and operations.
func (r *Repository) GetWorkOrder(ctx context.Context, tenantID, id uuid.UUID) (WorkOrder, error) {
	var (
		w         WorkOrder
		completed pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, doc_number, status, completed_at
FROM work_orders WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&w.ID, &w.TenantID, &w.Number, &w.Status, &completed)
	if err != nil {
		return WorkOrder{}, notFound(err)
	}
	if completed.Valid {
		w.CompletedAt = completed.Time
	}

	materials, err := r.pool.Query(ctx, `SELECT item_ref, quantity, unit_cost
FROM work_order_materials WHERE work_order_id=$1 ORDER BY line_no`, w.ID)
	if err != nil {
		return WorkOrder{}, err
	}
	w.Materials, err = pgx.CollectRows(materials, func(row pgx.CollectableRow) (MaterialUsage, error) {
		var m MaterialUsage
		err := row.Scan(&m.ItemRef, &m.Quantity, &m.UnitCost)
		return m, err
	})
	if err != nil {
		return WorkOrder{}, err
	}

	ops, err := r.pool.Query(ctx, `SELECT name, actual_hours, labor_rate
FROM work_order_operations WHERE work_order_id=$1 ORDER BY sequence`, w.ID)
	if err != nil {
		return WorkOrder{}, err
	}
	w.Operations, err = pgx.CollectRows(ops, func(row pgx.CollectableRow) (Operation, error) {
		var op Operation
		err := row.Scan(&op.Name, &op.ActualHours, &op.LaborRate)
		return op, err
	})
	if err != nil {
		return WorkOrder{}, err
	}
	return w, nil
}

// GetPurchaseOrder loads a purchase order scoped by tenant.
func (r *Repository) GetPurchaseOrder(ctx context.Context, tenantID, id uuid.UUID) (PurchaseOrder, error) {
	var p PurchaseOrder
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, doc_number, status, total_amount, order_date
FROM purchase_orders WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&p.ID, &p.TenantID, &p.Number, &p.Status, &p.Total, &p.OrderDate)
	if err != nil {
		return PurchaseOrder{}, notFound(err)
	}
	return p, nil
}

func unsyncedWhere(module Module) (moduleTable, string, error) {
	table, ok := tables[module]
	if !ok {
		return moduleTable{}, "", fmt.Errorf("%w: %q", ErrUnknownModule, module)
	}
	where := `s.tenant_id=$1 AND s.status = ANY($3) AND j.id IS NULL AND k.source_id IS NULL`
	if table.filter != "" {
		where += " AND " + table.filter
	}
	return table, where, nil
}

const unsyncedJoins = `LEFT JOIN journal_entries j ON j.tenant_id=s.tenant_id AND j.source_module=$2 AND j.source_id=s.id
LEFT JOIN ledger_sync_skips k ON k.tenant_id=s.tenant_id AND k.source_module=$2 AND k.source_id=s.id`

// ListUnsynced returns up to limit ids of eligible records that have neither a
// journal entry nor a skip marker, ordered by id and strictly greater than after. Passing the last id
// of one page as after yields the next page.
func (r *Repository) ListUnsynced(ctx context.Context, tenantID uuid.UUID, module Module, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	table, where, err := unsyncedWhere(module)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 500
	}
	query := fmt.Sprintf(`SELECT s.id FROM %s s
%s
WHERE %s AND s.id > $5
ORDER BY s.id
LIMIT $4`, table.name, unsyncedJoins, where)
	rows, err := r.pool.Query(ctx, query, tenantID, string(module), EligibleStatuses(module), limit, after)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// CountPending counts the records ListUnsynced would return across all pages.
func (r *Repository) CountPending(ctx context.Context, tenantID uuid.UUID, module Module) (int, error) {
	table, where, err := unsyncedWhere(module)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s s
%s
WHERE %s`, table.name, unsyncedJoins, where)
	var count int
	if err := r.pool.QueryRow(ctx, query, tenantID, string(module), EligibleStatuses(module)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// MarkNoImpact records that an eligible record produces no journal lines.
func (r *Repository) MarkNoImpact(ctx context.Context, tenantID uuid.UUID, module Module, sourceID uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO ledger_sync_skips (tenant_id, source_module, source_id, reason)
VALUES ($1,$2,$3,$4)
ON CONFLICT (tenant_id, source_module, source_id) DO NOTHING`, tenantID, string(module), sourceID, reason)
	return err
}

// ListTenants returns every tenant that owns at least one source record.
func (r *Repository) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	parts := make([]string, 0, len(tables))
	for _, m := range Modules() {
		parts = append(parts, "SELECT tenant_id FROM "+tables[m].name)
	}
	rows, err := r.pool.Query(ctx, strings.Join(parts, "\nUNION\n")+"\nORDER BY tenant_id")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}
