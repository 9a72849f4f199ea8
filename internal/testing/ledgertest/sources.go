package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/glsync/internal/accounting"
	"github.com/odyssey-erp/glsync/internal/sources"
)

// Sources is an in-memory store of operational records. When Ledger is set,
// ListUnsynced and CountPending exclude records that already have an entry.
// Records marked with MarkNoImpact are excluded as well.
type Sources struct {
	mu          sync.Mutex
	Ledger      *Ledger
	movements   map[uuid.UUID]sources.StockMovement
	adjustments map[uuid.UUID]sources.StockAdjustment
	sales       map[uuid.UUID]sources.SalesOrder
	payroll     map[uuid.UUID]sources.PayrollCycle
	workOrders  map[uuid.UUID]sources.WorkOrder
	purchases   map[uuid.UUID]sources.PurchaseOrder

	// Delay is applied to every Get call.
	Delay time.Duration
	// FailGet, when set, is returned from Get calls for the listed ids.
	FailGet map[uuid.UUID]error

	skips map[accounting.SourceKey]string
}

// NewSources constructs an empty store linked to ledger.
func NewSources(ledger *Ledger) *Sources {
	return &Sources{
		Ledger:      ledger,
		movements:   make(map[uuid.UUID]sources.StockMovement),
		adjustments: make(map[uuid.UUID]sources.StockAdjustment),
		sales:       make(map[uuid.UUID]sources.SalesOrder),
		payroll:     make(map[uuid.UUID]sources.PayrollCycle),
		workOrders:  make(map[uuid.UUID]sources.WorkOrder),
		purchases:   make(map[uuid.UUID]sources.PurchaseOrder),
		FailGet:     make(map[uuid.UUID]error),
		skips:       make(map[accounting.SourceKey]string),
	}
}

// Amount returns a pointer to v.
func Amount(v float64) *float64 { return &v }

func (s *Sources) PutMovement(m sources.StockMovement) {
	s.mu.Lock()
	s.movements[m.ID] = m
	s.mu.Unlock()
}

func (s *Sources) PutAdjustment(a sources.StockAdjustment) {
	s.mu.Lock()
	s.adjustments[a.ID] = a
	s.mu.Unlock()
}

func (s *Sources) PutSalesOrder(o sources.SalesOrder) {
	s.mu.Lock()
	s.sales[o.ID] = o
	s.mu.Unlock()
}

func (s *Sources) PutPayrollCycle(c sources.PayrollCycle) {
	s.mu.Lock()
	s.payroll[c.ID] = c
	s.mu.Unlock()
}

func (s *Sources) PutWorkOrder(w sources.WorkOrder) {
	s.mu.Lock()
	s.workOrders[w.ID] = w
	s.mu.Unlock()
}

func (s *Sources) PutPurchaseOrder(p sources.PurchaseOrder) {
	s.mu.Lock()
	s.purchases[p.ID] = p
	s.mu.Unlock()
}

func (s *Sources) before(ctx context.Context, id uuid.UUID) error {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FailGet[id]
}

func get[T any](ctx context.Context, s *Sources, store map[uuid.UUID]T, tenantID, id uuid.UUID, tenantOf func(T) uuid.UUID) (T, error) {
	var zero T
	if err := s.before(ctx, id); err != nil {
		return zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := store[id]
	if !ok || tenantOf(rec) != tenantID {
		return zero, sources.ErrNotFound
	}
	return rec, nil
}

func (s *Sources) GetStockMovement(ctx context.Context, tenantID, id uuid.UUID) (sources.StockMovement, error) {
	return get(ctx, s, s.movements, tenantID, id, func(r sources.StockMovement) uuid.UUID { return r.TenantID })
}

func (s *Sources) GetStockAdjustment(ctx context.Context, tenantID, id uuid.UUID) (sources.StockAdjustment, error) {
	return get(ctx, s, s.adjustments, tenantID, id, func(r sources.StockAdjustment) uuid.UUID { return r.TenantID })
}

func (s *Sources) GetSalesOrder(ctx context.Context, tenantID, id uuid.UUID) (sources.SalesOrder, error) {
	return get(ctx, s, s.sales, tenantID, id, func(r sources.SalesOrder) uuid.UUID { return r.TenantID })
}

func (s *Sources) GetPayrollCycle(ctx context.Context, tenantID, id uuid.UUID) (sources.PayrollCycle, error) {
	return get(ctx, s, s.payroll, tenantID, id, func(r sources.PayrollCycle) uuid.UUID { return r.TenantID })
}

func (s *Sources) GetWorkOrder(ctx context.Context, tenantID, id uuid.UUID) (sources.WorkOrder, error) {
	return get(ctx, s, s.workOrders, tenantID, id, func(r sources.WorkOrder) uuid.UUID { return r.TenantID })
}

func (s *Sources) GetPurchaseOrder(ctx context.Context, tenantID, id uuid.UUID) (sources.PurchaseOrder, error) {
	return get(ctx, s, s.purchases, tenantID, id, func(r sources.PurchaseOrder) uuid.UUID { return r.TenantID })
}

type candidate struct {
	id       uuid.UUID
	tenant   uuid.UUID
	eligible bool
}

func (s *Sources) candidates(module sources.Module) ([]candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []candidate
	switch module {
	case sources.ModuleInventory:
		for _, r := range s.movements {
			out = append(out, candidate{r.ID, r.TenantID, r.Eligible() && r.Type != sources.MovementTransfer})
		}
	case sources.ModuleStockAdjustment:
		for _, r := range s.adjustments {
			out = append(out, candidate{r.ID, r.TenantID, r.Eligible()})
		}
	case sources.ModuleSales:
		for _, r := range s.sales {
			out = append(out, candidate{r.ID, r.TenantID, r.Eligible()})
		}
	case sources.ModulePayroll:
		for _, r := range s.payroll {
			out = append(out, candidate{r.ID, r.TenantID, r.Eligible()})
		}
	case sources.ModuleManufacturing:
		for _, r := range s.workOrders {
			out = append(out, candidate{r.ID, r.TenantID, r.Eligible()})
		}
	case sources.ModulePurchase:
		for _, r := range s.purchases {
			out = append(out, candidate{r.ID, r.TenantID, r.Eligible()})
		}
	default:
		return nil, fmt.Errorf("%w: %q", sources.ErrUnknownModule, module)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id.String() < out[j].id.String() })
	return out, nil
}

func (s *Sources) ListUnsynced(ctx context.Context, tenantID uuid.UUID, module sources.Module, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	all, err := s.candidates(module)
	if err != nil {
		return nil, err
	}
	cursor := after.String()
	var out []uuid.UUID
	for _, c := range all {
		if c.tenant != tenantID || !c.eligible || c.id.String() <= cursor {
			continue
		}
		key := accounting.SourceKey{TenantID: tenantID, Module: string(module), SourceID: c.id}
		if s.Ledger != nil && s.Ledger.Posted(key) {
			continue
		}
		if s.skipped(key) {
			continue
		}
		out = append(out, c.id)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Sources) CountPending(ctx context.Context, tenantID uuid.UUID, module sources.Module) (int, error) {
	ids, err := s.ListUnsynced(ctx, tenantID, module, uuid.Nil, 0)
	return len(ids), err
}

// MarkNoImpact records a skip marker for the source key.
func (s *Sources) MarkNoImpact(ctx context.Context, tenantID uuid.UUID, module sources.Module, sourceID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accounting.SourceKey{TenantID: tenantID, Module: string(module), SourceID: sourceID}
	if _, ok := s.skips[key]; !ok {
		s.skips[key] = reason
	}
	return nil
}

// Skipped reports whether MarkNoImpact was called for the source key.
func (s *Sources) Skipped(key accounting.SourceKey) bool {
	return s.skipped(key)
}

func (s *Sources) skipped(key accounting.SourceKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.skips[key]
	return ok
}

// ListTenants returns every tenant owning at least one record, sorted.
func (s *Sources) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})
	for _, m := range sources.Modules() {
		all, err := s.candidates(m)
		if err != nil {
			return nil, err
		}
		for _, c := range all {
			seen[c.tenant] = struct{}{}
		}
	}
	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
