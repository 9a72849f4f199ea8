package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/glsync/internal/accounting"
	"github.com/odyssey-erp/glsync/internal/accounting/mappings"
	"github.com/odyssey-erp/glsync/internal/events"
	"github.com/odyssey-erp/glsync/internal/sources"
)

// Status enumerates sync outcome states.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusSkipped Status = "SKIPPED"
	StatusError   Status = "ERROR"
)

// SyncOutcome reports the result of one sync attempt. It is never persisted.
type SyncOutcome struct {
	TenantID       uuid.UUID      `json:"tenant_id"`
	Module         sources.Module `json:"module"`
	SourceID       uuid.UUID      `json:"source_id"`
	Status         Status         `json:"status"`
	JournalEntryID *uuid.UUID     `json:"journal_entry_id,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Duplicate      bool           `json:"duplicate,omitempty"`
	// Retryable marks ERROR outcomes caused by infrastructure rather than data or configuration.
	Retryable bool `json:"retryable,omitempty"`
}

// SourceReader loads operational records scoped by tenant.
type SourceReader interface {
	GetStockMovement(ctx context.Context, tenantID, id uuid.UUID) (sources.StockMovement, error)
	GetStockAdjustment(ctx context.Context, tenantID, id uuid.UUID) (sources.StockAdjustment, error)
	GetSalesOrder(ctx context.Context, tenantID, id uuid.UUID) (sources.SalesOrder, error)
	GetPayrollCycle(ctx context.Context, tenantID, id uuid.UUID) (sources.PayrollCycle, error)
	GetWorkOrder(ctx context.Context, tenantID, id uuid.UUID) (sources.WorkOrder, error)
	GetPurchaseOrder(ctx context.Context, tenantID, id uuid.UUID) (sources.PurchaseOrder, error)
}

// MappingResolver resolves account mappings.
type MappingResolver interface {
	Resolve(tenantID uuid.UUID, module, subtype string) (mappings.AccountMapping, error)
}

// Poster posts balanced journal entries.
type Poster interface {
	Post(ctx context.Context, input accounting.PostingInput) (accounting.PostResult, error)
}

// Publisher emits outbound integration events.
type Publisher interface {
	Publish(ctx context.Context, topic string, evt events.Event)
}

// OutcomeRecorder observes sync outcomes for metrics.
type OutcomeRecorder interface {
	ObserveSync(module, status string)
}

// SkipRecorder remembers records that carry no GL impact so later passes stop
// listing them.
type SkipRecorder interface {
	MarkNoImpact(ctx context.Context, tenantID uuid.UUID, module sources.Module, sourceID uuid.UUID, reason string) error
}

// Config tunes orchestrator timeouts and costing.
type Config struct {
	FetchTimeout       time.Duration
	PostTimeout        time.Duration
	OverheadMultiplier float64
}

// Orchestrator turns eligible source records into ledger postings.
type Orchestrator struct {
	sources   SourceReader
	mappings  MappingResolver
	poster    Poster
	publisher Publisher
	recorder  OutcomeRecorder
	skips     SkipRecorder
	cfg       Config
	logger    *slog.Logger
}

// NewOrchestrator wires the orchestrator. publisher may be nil.
func NewOrchestrator(src SourceReader, maps MappingResolver, poster Poster, publisher Publisher, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.PostTimeout <= 0 {
		cfg.PostTimeout = 10 * time.Second
	}
	if cfg.OverheadMultiplier <= 0 {
		cfg.OverheadMultiplier = DefaultOverheadMultiplier
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{sources: src, mappings: maps, poster: poster, publisher: publisher, cfg: cfg, logger: logger}
}

// WithRecorder attaches a metrics recorder.
func (o *Orchestrator) WithRecorder(r OutcomeRecorder) *Orchestrator {
	o.recorder = r
	return o
}

// WithSkipRecorder attaches the store for no-impact markers.
func (o *Orchestrator) WithSkipRecorder(s SkipRecorder) *Orchestrator {
	o.skips = s
	return o
}

// Sync dispatches to the module's sync function.
func (o *Orchestrator) Sync(ctx context.Context, module sources.Module, tenantID, sourceID uuid.UUID) (SyncOutcome, error) {
	switch module {
	case sources.ModuleInventory:
		return o.SyncInventoryMovement(ctx, tenantID, sourceID)
	case sources.ModuleStockAdjustment:
		return o.SyncStockAdjustment(ctx, tenantID, sourceID)
	case sources.ModuleSales:
		return o.SyncSalesOrder(ctx, tenantID, sourceID)
	case sources.ModulePayroll:
		return o.SyncPayrollCycle(ctx, tenantID, sourceID)
	case sources.ModuleManufacturing:
		return o.SyncWorkOrder(ctx, tenantID, sourceID)
	case sources.ModulePurchase:
		return o.SyncPurchaseOrder(ctx, tenantID, sourceID)
	}
	return SyncOutcome{}, fmt.Errorf("%w: %q", sources.ErrUnknownModule, module)
}

// syncRun carries one sync attempt through its stages.
type syncRun struct {
	o        *Orchestrator
	module   sources.Module
	tenantID uuid.UUID
	sourceID uuid.UUID
}

func (o *Orchestrator) run(module sources.Module, tenantID, sourceID uuid.UUID) syncRun {
	return syncRun{o: o, module: module, tenantID: tenantID, sourceID: sourceID}
}

// fetch loads the source record under the fetch timeout. A missing record is
// returned as an error; any other failure becomes an ERROR outcome.
func (r syncRun) fetch(ctx context.Context, load func(context.Context) error) (*SyncOutcome, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.o.cfg.FetchTimeout)
	defer cancel()
	err := load(fetchCtx)
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, sources.ErrNotFound):
		return nil, fmt.Errorf("integration: %s %s for tenant %s: %w", r.module, r.sourceID, r.tenantID, err)
	}
	out := r.o.finish(ctx, r.failed(fmt.Errorf("fetch source: %w", err)))
	return &out, nil
}

func (r syncRun) outcome(status Status, reason string) SyncOutcome {
	return SyncOutcome{TenantID: r.tenantID, Module: r.module, SourceID: r.sourceID, Status: status, Reason: reason}
}

func (r syncRun) skipped(reason string) SyncOutcome {
	return r.outcome(StatusSkipped, reason)
}

func (r syncRun) failed(err error) SyncOutcome {
	out := r.outcome(StatusError, err.Error())
	out.Retryable = Retryable(err)
	return out
}

// Retryable reports whether a sync error may succeed on a later attempt without
// an operator fixing data or configuration.
func Retryable(err error) bool {
	var verr *ValidationError
	switch {
	case err == nil:
		return false
	case errors.As(err, &verr),
		errors.Is(err, mappings.ErrMappingNotFound),
		errors.Is(err, accounting.ErrUnbalanced),
		errors.Is(err, accounting.ErrInvalidLine),
		errors.Is(err, accounting.ErrTooFewLines):
		return false
	}
	return true
}

// rejected reports a record the builder could not turn into lines.
func (r syncRun) rejected(ctx context.Context, err error) SyncOutcome {
	if errors.Is(err, ErrNoGLImpact) {
		if r.o.skips != nil {
			if markErr := r.o.skips.MarkNoImpact(ctx, r.tenantID, r.module, r.sourceID, err.Error()); markErr != nil {
				r.o.logger.Warn("mark no gl impact",
					slog.String("tenant_id", r.tenantID.String()),
					slog.String("module", string(r.module)),
					slog.String("source_id", r.sourceID.String()),
					slog.Any("error", markErr),
				)
			}
		}
		return r.o.finish(ctx, r.skipped(err.Error()))
	}
	return r.o.finish(ctx, r.failed(err))
}

func (r syncRun) resolve(subtype string) (mappings.AccountMapping, error) {
	return r.o.mappings.Resolve(r.tenantID, mappingModule(r.module), subtype)
}

func (r syncRun) post(ctx context.Context, description string, postDate time.Time, lines []accounting.LineInput) SyncOutcome {
	postCtx, cancel := context.WithTimeout(ctx, r.o.cfg.PostTimeout)
	defer cancel()
	res, err := r.o.poster.Post(postCtx, accounting.PostingInput{
		TenantID:     r.tenantID,
		SourceModule: string(r.module),
		SourceID:     r.sourceID,
		Description:  description,
		PostDate:     postDate,
		Lines:        lines,
	})
	if err != nil {
		return r.o.finish(ctx, r.failed(err))
	}
	id := res.Entry.ID
	out := r.outcome(StatusSuccess, "")
	out.JournalEntryID = &id
	out.Duplicate = res.Duplicate
	return r.o.finish(ctx, out)
}

func mappingModule(m sources.Module) string {
	switch m {
	case sources.ModuleInventory, sources.ModuleStockAdjustment:
		return mappings.ModuleInventory
	case sources.ModuleSales:
		return mappings.ModuleSales
	case sources.ModulePayroll:
		return mappings.ModulePayroll
	case sources.ModuleManufacturing:
		return mappings.ModuleManufacturing
	case sources.ModulePurchase:
		return mappings.ModulePurchase
	}
	return string(m)
}

// finish logs, records and publishes the outcome.
func (o *Orchestrator) finish(ctx context.Context, out SyncOutcome) SyncOutcome {
	attrs := []any{
		slog.String("tenant_id", out.TenantID.String()),
		slog.String("module", string(out.Module)),
		slog.String("source_id", out.SourceID.String()),
		slog.String("status", string(out.Status)),
	}
	switch out.Status {
	case StatusSuccess:
		attrs = append(attrs, slog.String("journal_entry_id", out.JournalEntryID.String()), slog.Bool("duplicate", out.Duplicate))
		o.logger.Info("ledger sync", attrs...)
	case StatusSkipped:
		o.logger.Debug("ledger sync", append(attrs, slog.String("reason", out.Reason))...)
	default:
		o.logger.Warn("ledger sync", append(attrs, slog.String("reason", out.Reason))...)
	}
	if o.recorder != nil {
		o.recorder.ObserveSync(string(out.Module), string(out.Status))
	}
	o.publish(ctx, out)
	return out
}

func (o *Orchestrator) publish(ctx context.Context, out SyncOutcome) {
	if o.publisher == nil {
		return
	}
	switch out.Status {
	case StatusSuccess:
		o.publisher.Publish(ctx, events.SyncedTopic(string(out.Module)), events.Event{
			TenantID: out.TenantID,
			SourceID: out.SourceID,
			Data: map[string]any{
				"journal_entry_id": out.JournalEntryID.String(),
				"module":           string(out.Module),
				"duplicate":        out.Duplicate,
			},
		})
	case StatusError:
		o.publisher.Publish(ctx, events.TopicIntegrationError, events.Event{
			TenantID: out.TenantID,
			SourceID: out.SourceID,
			Data: map[string]any{
				"eventType": out.Module.Lower() + ".sync",
				"error":     out.Reason,
				"data": map[string]any{
					"module":    string(out.Module),
					"source_id": out.SourceID.String(),
				},
			},
		})
	}
}

// SyncInventoryMovement posts a completed stock movement.
func (o *Orchestrator) SyncInventoryMovement(ctx context.Context, tenantID, movementID uuid.UUID) (SyncOutcome, error) {
	r := o.run(sources.ModuleInventory, tenantID, movementID)
	var m sources.StockMovement
	if out, err := r.fetch(ctx, func(ctx context.Context) (err error) {
		m, err = o.sources.GetStockMovement(ctx, tenantID, movementID)
		return err
	}); out != nil || err != nil {
		return deref(out), err
	}
	if !m.Eligible() {
		return o.finish(ctx, r.skipped(fmt.Sprintf("stock movement %s is %s", m.Reference, m.Status))), nil
	}
	subtype, err := MovementSubtype(m)
	if err != nil {
		return r.rejected(ctx, err), nil
	}
	mapping, err := r.resolve(subtype)
	if err != nil {
		return o.finish(ctx, r.failed(err)), nil
	}
	lines, err := BuildInventoryMovement(m, mapping)
	if err != nil {
		return r.rejected(ctx, err), nil
	}
	return r.post(ctx, fmt.Sprintf("Stock %s %s", m.Type, m.Reference), m.OccurredAt, lines), nil
}

// SyncStockAdjustment posts a completed stock adjustment.
func (o *Orchestrator) SyncStockAdjustment(ctx context.Context, tenantID, adjustmentID uuid.UUID) (SyncOutcome, error) {
	r := o.run(sources.ModuleStockAdjustment, tenantID, adjustmentID)
	var a sources.StockAdjustment
	if out, err := r.fetch(ctx, func(ctx context.Context) (err error) {
		a, err = o.sources.GetStockAdjustment(ctx, tenantID, adjustmentID)
		return err
	}); out != nil || err != nil {
		return deref(out), err
	}
	if !a.Eligible() {
		return o.finish(ctx, r.skipped(fmt.Sprintf("stock adjustment %s is %s", a.Reference, a.Status))), nil
	}
	mapping, err := r.resolve(mappings.SubtypeAdjustment)
	if err != nil {
		return o.finish(ctx, r.failed(err)), nil
	}
	lines, err := BuildStockAdjustment(a, mapping)
	if err != nil {
		return r.rejected(ctx, err), nil
	}
	return r.post(ctx, fmt.Sprintf("Stock adjustment %s", a.Reference), a.AdjustedAt, lines), nil
}

// SyncSalesOrder posts receivables and revenue for a confirmed sales order.
func (o *Orchestrator) SyncSalesOrder(ctx context.Context, tenantID, orderID uuid.UUID) (SyncOutcome, error) {
	r := o.run(sources.ModuleSales, tenantID, orderID)
	var so sources.SalesOrder
	if out, err := r.fetch(ctx, func(ctx context.Context) (err error) {
		so, err = o.sources.GetSalesOrder(ctx, tenantID, orderID)
		return err
	}); out != nil || err != nil {
		return deref(out), err
	}
	if !so.Eligible() {
		return o.finish(ctx, r.skipped(fmt.Sprintf("sales order %s is %s", so.Number, so.Status))), nil
	}
	mapping, err := r.resolve(mappings.SubtypeOrder)
	if err != nil {
		return o.finish(ctx, r.failed(err)), nil
	}
	lines, err := BuildSalesOrder(so, mapping)
	if err != nil {
		return r.rejected(ctx, err), nil
	}
	return r.post(ctx, fmt.Sprintf("Sales order %s", so.Number), so.OrderDate, lines), nil
}

// SyncPayrollCycle posts the aggregated payroll entry for a processed cycle.
func (o *Orchestrator) SyncPayrollCycle(ctx context.Context, tenantID, cycleID uuid.UUID) (SyncOutcome, error) {
	r := o.run(sources.ModulePayroll, tenantID, cycleID)
	var c sources.PayrollCycle
	if out, err := r.fetch(ctx, func(ctx context.Context) (err error) {
		c, err = o.sources.GetPayrollCycle(ctx, tenantID, cycleID)
		return err
	}); out != nil || err != nil {
		return deref(out), err
	}
	if !c.Eligible() {
		return o.finish(ctx, r.skipped(fmt.Sprintf("payroll cycle %s is %s", c.Period, c.Status))), nil
	}
	var (
		m   PayrollMappings
		err error
	)
	for _, target := range []struct {
		subtype string
		dst     *mappings.AccountMapping
	}{
		{mappings.SubtypeSalary, &m.Salary},
		{mappings.SubtypeTax, &m.Tax},
		{mappings.SubtypeOther, &m.Other},
	} {
		if *target.dst, err = r.resolve(target.subtype); err != nil {
			return o.finish(ctx, r.failed(err)), nil
		}
	}
	lines, err := BuildPayrollCycle(c, m)
	if err != nil {
		return r.rejected(ctx, err), nil
	}
	return r.post(ctx, fmt.Sprintf("Payroll %s (%d payslips)", c.Period, len(c.Payslips)), c.PayDate, lines), nil
}

// SyncWorkOrder posts the marked-up production cost of a completed work order.
func (o *Orchestrator) SyncWorkOrder(ctx context.Context, tenantID, workOrderID uuid.UUID) (SyncOutcome, error) {
	r := o.run(sources.ModuleManufacturing, tenantID, workOrderID)
	var w sources.WorkOrder
	if out, err := r.fetch(ctx, func(ctx context.Context) (err error) {
		w, err = o.sources.GetWorkOrder(ctx, tenantID, workOrderID)
		return err
	}); out != nil || err != nil {
		return deref(out), err
	}
	if !w.Eligible() {
		return o.finish(ctx, r.skipped(fmt.Sprintf("work order %s is %s", w.Number, w.Status))), nil
	}
	mapping, err := r.resolve(mappings.SubtypeWorkOrder)
	if err != nil {
		return o.finish(ctx, r.failed(err)), nil
	}
	lines, err := BuildWorkOrder(w, mapping, o.cfg.OverheadMultiplier)
	if err != nil {
		return r.rejected(ctx, err), nil
	}
	return r.post(ctx, fmt.Sprintf("Work order %s", w.Number), w.CompletedAt, lines), nil
}

// SyncPurchaseOrder posts inventory and payables for a received purchase order.
func (o *Orchestrator) SyncPurchaseOrder(ctx context.Context, tenantID, poID uuid.UUID) (SyncOutcome, error) {
	r := o.run(sources.ModulePurchase, tenantID, poID)
	var po sources.PurchaseOrder
	if out, err := r.fetch(ctx, func(ctx context.Context) (err error) {
		po, err = o.sources.GetPurchaseOrder(ctx, tenantID, poID)
		return err
	}); out != nil || err != nil {
		return deref(out), err
	}
	if !po.Eligible() {
		return o.finish(ctx, r.skipped(fmt.Sprintf("purchase order %s is %s", po.Number, po.Status))), nil
	}
	mapping, err := r.resolve(mappings.SubtypeOrder)
	if err != nil {
		return o.finish(ctx, r.failed(err)), nil
	}
	lines, err := BuildPurchaseOrder(po, mapping)
	if err != nil {
		return r.rejected(ctx, err), nil
	}
	return r.post(ctx, fmt.Sprintf("Purchase order %s", po.Number), po.OrderDate, lines), nil
}

func deref(out *SyncOutcome) SyncOutcome {
	if out == nil {
		return SyncOutcome{}
	}
	return *out
}
