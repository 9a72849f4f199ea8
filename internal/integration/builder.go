package integration

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/odyssey-erp/glsync/internal/accounting"
	"github.com/odyssey-erp/glsync/internal/accounting/mappings"
	"github.com/odyssey-erp/glsync/internal/sources"
)

// DefaultOverheadMultiplier marks up work order cost for manufacturing overhead.
const DefaultOverheadMultiplier = 1.10

// ErrNoGLImpact marks a record that legitimately produces no journal lines.
var ErrNoGLImpact = errors.New("integration: no general ledger impact")

// ValidationError reports a source record whose amounts cannot be posted.
type ValidationError struct {
	Module   sources.Module
	SourceID uuid.UUID
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("integration: %s %s: %s %s", e.Module, e.SourceID, e.Field, e.Reason)
}

func invalid(module sources.Module, id uuid.UUID, field, reason string) *ValidationError {
	return &ValidationError{Module: module, SourceID: id, Field: field, Reason: reason}
}

func amount(module sources.Module, id uuid.UUID, field string, v *float64) (float64, error) {
	switch {
	case v == nil:
		return 0, invalid(module, id, field, "is missing")
	case math.IsNaN(*v) || math.IsInf(*v, 0):
		return 0, invalid(module, id, field, "is not a number")
	case *v < 0:
		return 0, invalid(module, id, field, "must not be negative")
	}
	return *v, nil
}

func signedAmount(module sources.Module, id uuid.UUID, field string, v *float64) (float64, error) {
	switch {
	case v == nil:
		return 0, invalid(module, id, field, "is missing")
	case math.IsNaN(*v) || math.IsInf(*v, 0):
		return 0, invalid(module, id, field, "is not a number")
	}
	return *v, nil
}

// MovementSubtype returns the mapping subtype for a movement type.
func MovementSubtype(m sources.StockMovement) (string, error) {
	switch m.Type {
	case sources.MovementIn:
		return mappings.SubtypeIn, nil
	case sources.MovementOut:
		return mappings.SubtypeOut, nil
	case sources.MovementAdjustment:
		return mappings.SubtypeAdjustment, nil
	case sources.MovementTransfer:
		return "", ErrNoGLImpact
	}
	return "", invalid(sources.ModuleInventory, m.ID, "movement_type", fmt.Sprintf("%q is not supported", m.Type))
}

// BuildInventoryMovement produces lines for a completed stock movement.
// Transfers between warehouses return ErrNoGLImpact.
func BuildInventoryMovement(m sources.StockMovement, mapping mappings.AccountMapping) ([]accounting.LineInput, error) {
	if _, err := MovementSubtype(m); err != nil {
		return nil, err
	}
	cost, err := amount(sources.ModuleInventory, m.ID, "unit_cost", m.UnitCost)
	if err != nil {
		return nil, err
	}
	if m.Type == sources.MovementAdjustment {
		qty, err := signedAmount(sources.ModuleInventory, m.ID, "quantity", m.Quantity)
		if err != nil {
			return nil, err
		}
		return adjustmentLines(qty, cost, mapping)
	}
	qty, err := amount(sources.ModuleInventory, m.ID, "quantity", m.Quantity)
	if err != nil {
		return nil, err
	}
	total := monetary(qty, cost)
	if total == 0 {
		return nil, ErrNoGLImpact
	}
	// IN: Dr inventory / Cr clearing. OUT: Dr COGS / Cr inventory.
	return pair(mapping.DebitAccountCode, mapping.CreditAccountCode, total), nil
}

// BuildStockAdjustment produces lines for a completed stock adjustment.
func BuildStockAdjustment(a sources.StockAdjustment, mapping mappings.AccountMapping) ([]accounting.LineInput, error) {
	delta, err := signedAmount(sources.ModuleStockAdjustment, a.ID, "quantity_delta", a.QuantityDelta)
	if err != nil {
		return nil, err
	}
	cost, err := amount(sources.ModuleStockAdjustment, a.ID, "unit_cost", a.UnitCost)
	if err != nil {
		return nil, err
	}
	return adjustmentLines(delta, cost, mapping)
}

// adjustmentLines debits the mapping's debit account for a positive delta and
// swaps the sides for a negative one.
func adjustmentLines(delta, unitCost float64, mapping mappings.AccountMapping) ([]accounting.LineInput, error) {
	total := monetary(abs(delta), unitCost)
	if total == 0 {
		return nil, ErrNoGLImpact
	}
	if delta > 0 {
		return pair(mapping.DebitAccountCode, mapping.CreditAccountCode, total), nil
	}
	return pair(mapping.CreditAccountCode, mapping.DebitAccountCode, total), nil
}

// BuildSalesOrder debits receivables and credits revenue for the order total.
func BuildSalesOrder(o sources.SalesOrder, mapping mappings.AccountMapping) ([]accounting.LineInput, error) {
	total, err := amount(sources.ModuleSales, o.ID, "total_amount", o.Total)
	if err != nil {
		return nil, err
	}
	if total = round2(total); total == 0 {
		return nil, ErrNoGLImpact
	}
	return pair(mapping.DebitAccountCode, mapping.CreditAccountCode, total), nil
}

// PayrollMappings groups the mappings a payroll posting needs.
type PayrollMappings struct {
	Salary mappings.AccountMapping
	Tax    mappings.AccountMapping
	Other  mappings.AccountMapping
}

// BuildPayrollCycle aggregates every payslip of the cycle into one entry: Dr
// salary expense for gross pay, Cr net payable, Cr tax payable and Cr other
// deductions for total deductions less tax.
func BuildPayrollCycle(c sources.PayrollCycle, m PayrollMappings) ([]accounting.LineInput, error) {
	if len(c.Payslips) == 0 {
		return nil, invalid(sources.ModulePayroll, c.ID, "payslips", "is empty")
	}
	var gross, net, tax, other float64
	for i, slip := range c.Payslips {
		field := func(name string) string { return fmt.Sprintf("payslips[%d].%s", i, name) }
		g, err := amount(sources.ModulePayroll, c.ID, field("gross_pay"), slip.Gross)
		if err != nil {
			return nil, err
		}
		n, err := amount(sources.ModulePayroll, c.ID, field("net_pay"), slip.Net)
		if err != nil {
			return nil, err
		}
		t, err := amount(sources.ModulePayroll, c.ID, field("tax_amount"), slip.Tax)
		if err != nil {
			return nil, err
		}
		d, err := amount(sources.ModulePayroll, c.ID, field("total_deductions"), slip.TotalDeductions)
		if err != nil {
			return nil, err
		}
		residual := round2(d - t)
		if residual < 0 {
			return nil, invalid(sources.ModulePayroll, c.ID, field("total_deductions"),
				fmt.Sprintf("%.2f is less than tax %.2f", d, t))
		}
		gross += g
		net += n
		tax += t
		other += residual
	}
	gross, net, tax, other = round2(gross), round2(net), round2(tax), round2(other)
	if gross == 0 {
		return nil, ErrNoGLImpact
	}

	lines := []accounting.LineInput{{AccountCode: m.Salary.DebitAccountCode, Debit: gross}}
	for _, credit := range []struct {
		account string
		amount  float64
	}{
		{m.Salary.CreditAccountCode, net},
		{m.Tax.CreditAccountCode, tax},
		{m.Other.CreditAccountCode, other},
	} {
		if credit.amount != 0 {
			lines = append(lines, accounting.LineInput{AccountCode: credit.account, Credit: credit.amount})
		}
	}
	return lines, nil
}

// WorkOrderCost returns material plus labour cost marked up by overhead.
func WorkOrderCost(w sources.WorkOrder, overhead float64) (float64, error) {
	if overhead <= 0 || math.IsNaN(overhead) {
		return 0, fmt.Errorf("integration: overhead multiplier must be positive, got %v", overhead)
	}
	var total float64
	for i, mat := range w.Materials {
		qty, err := amount(sources.ModuleManufacturing, w.ID, fmt.Sprintf("materials[%d].quantity", i), mat.Quantity)
		if err != nil {
			return 0, err
		}
		cost, err := amount(sources.ModuleManufacturing, w.ID, fmt.Sprintf("materials[%d].unit_cost", i), mat.UnitCost)
		if err != nil {
			return 0, err
		}
		total += qty * cost
	}
	for i, op := range w.Operations {
		hours, err := amount(sources.ModuleManufacturing, w.ID, fmt.Sprintf("operations[%d].actual_hours", i), op.ActualHours)
		if err != nil {
			return 0, err
		}
		rate, err := amount(sources.ModuleManufacturing, w.ID, fmt.Sprintf("operations[%d].labor_rate", i), op.LaborRate)
		if err != nil {
			return 0, err
		}
		total += hours * rate
	}
	return round2(total * overhead), nil
}

// BuildWorkOrder debits work in progress and credits manufacturing overhead for
// the marked-up production cost.
func BuildWorkOrder(w sources.WorkOrder, mapping mappings.AccountMapping, overhead float64) ([]accounting.LineInput, error) {
	total, err := WorkOrderCost(w, overhead)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, ErrNoGLImpact
	}
	return pair(mapping.DebitAccountCode, mapping.CreditAccountCode, total), nil
}

// BuildPurchaseOrder debits inventory or expense and credits payables.
func BuildPurchaseOrder(p sources.PurchaseOrder, mapping mappings.AccountMapping) ([]accounting.LineInput, error) {
	total, err := amount(sources.ModulePurchase, p.ID, "total_amount", p.Total)
	if err != nil {
		return nil, err
	}
	if total = round2(total); total == 0 {
		return nil, ErrNoGLImpact
	}
	return pair(mapping.DebitAccountCode, mapping.CreditAccountCode, total), nil
}
