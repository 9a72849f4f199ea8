package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/glsync/internal/accounting"
	"github.com/odyssey-erp/glsync/internal/accounting/mappings"
	"github.com/odyssey-erp/glsync/internal/events"
	"github.com/odyssey-erp/glsync/internal/sources"
	"github.com/odyssey-erp/glsync/internal/testing/ledgertest"
)

type harness struct {
	tenant     uuid.UUID
	ledger     *ledgertest.Ledger
	sources    *ledgertest.Sources
	dispatcher *events.Dispatcher
	orch       *Orchestrator

	mu       sync.Mutex
	outbound []events.Event
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{tenant: uuid.New(), ledger: ledgertest.NewLedger()}
	h.sources = ledgertest.NewSources(h.ledger)
	h.dispatcher = events.NewDispatcher(nil)
	record := func(ctx context.Context, evt events.Event) error {
		h.mu.Lock()
		h.outbound = append(h.outbound, evt)
		h.mu.Unlock()
		return nil
	}
	for _, m := range sources.Modules() {
		h.dispatcher.Subscribe(events.SyncedTopic(string(m)), record)
	}
	h.dispatcher.Subscribe(events.TopicIntegrationError, record)
	h.dispatcher.Subscribe(events.TopicError, record)

	table := mappings.NewStaticTable(mappings.DefaultMappings(h.tenant)...)
	h.orch = NewOrchestrator(h.sources, table, accounting.NewService(h.ledger, nil, nil), h.dispatcher, cfg, nil)
	return h
}

func (h *harness) events(topic string) []events.Event {
	h.dispatcher.Wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []events.Event
	for _, e := range h.outbound {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) salesOrder(status sources.SalesOrderStatus, total *float64) sources.SalesOrder {
	so := sources.SalesOrder{ID: uuid.New(), TenantID: h.tenant, Number: "SO-001", Status: status, Total: total, OrderDate: time.Now()}
	h.sources.PutSalesOrder(so)
	return so
}

func TestSalesOrderTerminalStateGate(t *testing.T) {
	h := newHarness(t, Config{})
	so := h.salesOrder(sources.SalesOrderDraft, amt(2500))

	out, err := h.orch.SyncSalesOrder(context.Background(), h.tenant, so.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, out.Status)
	require.Contains(t, out.Reason, "DRAFT")
	require.Nil(t, out.JournalEntryID)
	require.Zero(t, h.ledger.Count())

	so.Status = sources.SalesOrderConfirmed
	h.sources.PutSalesOrder(so)
	out, err = h.orch.SyncSalesOrder(context.Background(), h.tenant, so.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, out.Status)
	require.NotNil(t, out.JournalEntryID)
	require.Equal(t, 1, h.ledger.Count())

	synced := h.events(events.SyncedTopic(string(sources.ModuleSales)))
	require.Len(t, synced, 1)
	require.Equal(t, out.JournalEntryID.String(), synced[0].Data["journal_entry_id"])
}

func TestSyncIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	so := h.salesOrder(sources.SalesOrderShipped, amt(100))

	first, err := h.orch.Sync(context.Background(), sources.ModuleSales, h.tenant, so.ID)
	require.NoError(t, err)
	second, err := h.orch.Sync(context.Background(), sources.ModuleSales, h.tenant, so.ID)
	require.NoError(t, err)

	require.Equal(t, StatusSuccess, first.Status)
	require.Equal(t, StatusSuccess, second.Status)
	require.Equal(t, *first.JournalEntryID, *second.JournalEntryID)
	require.False(t, first.Duplicate)
	require.True(t, second.Duplicate)
	require.Equal(t, 1, h.ledger.Count())
}

func TestConcurrentSyncsProduceOneEntry(t *testing.T) {
	h := newHarness(t, Config{})
	mv := sources.StockMovement{ID: uuid.New(), TenantID: h.tenant, Type: sources.MovementIn, Status: sources.MovementCompleted, Quantity: amt(100), UnitCost: amt(50)}
	h.sources.PutMovement(mv)

	const n = 12
	outcomes := make([]SyncOutcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.orch.SyncInventoryMovement(context.Background(), h.tenant, mv.ID)
			if err != nil {
				t.Errorf("sync %d: %v", i, err)
			}
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, h.ledger.Count())
	for _, out := range outcomes {
		require.Equal(t, StatusSuccess, out.Status)
		require.Equal(t, *outcomes[0].JournalEntryID, *out.JournalEntryID)
	}
	entry := h.ledger.Entries()[0]
	require.Equal(t, accounting.JournalStatusPosted, entry.Status)
	require.Len(t, entry.Lines, 2)
	require.Equal(t, 5000.0, entry.Lines[0].Debit)
}

func TestMissingMappingIsError(t *testing.T) {
	h := newHarness(t, Config{})
	other := uuid.New()
	po := sources.PurchaseOrder{ID: uuid.New(), TenantID: other, Number: "PO-9", Status: sources.PurchaseOrderReceived, Total: amt(10)}
	h.sources.PutPurchaseOrder(po)

	out, err := h.orch.SyncPurchaseOrder(context.Background(), other, po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusError, out.Status)
	require.Contains(t, out.Reason, "mapping")
	require.Zero(t, h.ledger.Count())

	reported := h.events(events.TopicIntegrationError)
	require.Len(t, reported, 1)
	require.Equal(t, "purchase.sync", reported[0].Data["eventType"])
}

func TestMissingSourceRecordReturnsError(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.orch.SyncWorkOrder(context.Background(), h.tenant, uuid.New())
	require.ErrorIs(t, err, sources.ErrNotFound)

	so := h.salesOrder(sources.SalesOrderConfirmed, amt(5))
	_, err = h.orch.SyncSalesOrder(context.Background(), uuid.New(), so.ID)
	require.ErrorIs(t, err, sources.ErrNotFound)
}

func TestTransferIsSkipped(t *testing.T) {
	h := newHarness(t, Config{})
	mv := sources.StockMovement{ID: uuid.New(), TenantID: h.tenant, Type: sources.MovementTransfer, Status: sources.MovementCompleted, Quantity: amt(1), UnitCost: amt(1)}
	h.sources.PutMovement(mv)

	out, err := h.orch.SyncInventoryMovement(context.Background(), h.tenant, mv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, out.Status)
	require.Contains(t, out.Reason, "no general ledger impact")
	require.Zero(t, h.ledger.Count())
}

func TestValidationFailureIsErrorWithField(t *testing.T) {
	h := newHarness(t, Config{})
	so := h.salesOrder(sources.SalesOrderConfirmed, nil)

	out, err := h.orch.SyncSalesOrder(context.Background(), h.tenant, so.ID)
	require.NoError(t, err)
	require.Equal(t, StatusError, out.Status)
	require.Contains(t, out.Reason, "total_amount")
	require.Contains(t, out.Reason, so.ID.String())
}

func TestUnbalancedPayrollIsErrorAndNotPosted(t *testing.T) {
	h := newHarness(t, Config{})
	cycle := sources.PayrollCycle{
		ID: uuid.New(), TenantID: h.tenant, Period: "2025-01", Status: sources.PayrollCompleted,
		Payslips: []sources.Payslip{{Gross: amt(5000), Net: amt(3000), Tax: amt(500), TotalDeductions: amt(600)}},
	}
	h.sources.PutPayrollCycle(cycle)

	out, err := h.orch.SyncPayrollCycle(context.Background(), h.tenant, cycle.ID)
	require.NoError(t, err)
	require.Equal(t, StatusError, out.Status)
	require.Contains(t, out.Reason, "balance")
	require.Zero(t, h.ledger.Count())
}

func TestPayrollCycleSyncScenario(t *testing.T) {
	h := newHarness(t, Config{})
	cycle := sources.PayrollCycle{
		ID: uuid.New(), TenantID: h.tenant, Period: "2025-02", Status: sources.PayrollPaid,
		Payslips: []sources.Payslip{
			{Gross: amt(7000), Net: amt(5000), Tax: amt(1000), TotalDeductions: amt(2000)},
			{Gross: amt(8000), Net: amt(6000), Tax: amt(1200), TotalDeductions: amt(2400)},
		},
	}
	h.sources.PutPayrollCycle(cycle)

	out, err := h.orch.SyncPayrollCycle(context.Background(), h.tenant, cycle.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, out.Status)
	require.Equal(t, 1, h.ledger.Count())
	require.Equal(t, 4, h.ledger.LedgerRows())
	entry := h.ledger.Entries()[0]
	require.Equal(t, string(sources.ModulePayroll), entry.SourceModule)
	require.Equal(t, cycle.ID, entry.SourceID)
}

func TestFetchTimeoutIsError(t *testing.T) {
	h := newHarness(t, Config{FetchTimeout: 5 * time.Millisecond})
	so := h.salesOrder(sources.SalesOrderConfirmed, amt(10))
	h.sources.Delay = 100 * time.Millisecond

	out, err := h.orch.SyncSalesOrder(context.Background(), h.tenant, so.ID)
	require.NoError(t, err)
	require.Equal(t, StatusError, out.Status)
	require.Contains(t, out.Reason, "deadline")
	require.Zero(t, h.ledger.Count())
}

func TestPostTimeoutIsRetryableError(t *testing.T) {
	h := newHarness(t, Config{PostTimeout: 5 * time.Millisecond})
	so := h.salesOrder(sources.SalesOrderConfirmed, amt(10))
	h.ledger.Delay = 100 * time.Millisecond

	out, err := h.orch.SyncSalesOrder(context.Background(), h.tenant, so.ID)
	require.NoError(t, err)
	require.Equal(t, StatusError, out.Status)
	require.True(t, out.Retryable)
	require.Contains(t, out.Reason, "deadline")
	require.Zero(t, h.ledger.Count())
	require.Zero(t, h.ledger.LedgerRows())

	h.ledger.Delay = 0
	out, err = h.orch.SyncSalesOrder(context.Background(), h.tenant, so.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, out.Status)
	require.Equal(t, 1, h.ledger.Count())
}

func TestOutboundEventsCarryTenant(t *testing.T) {
	h := newHarness(t, Config{})
	ok := h.salesOrder(sources.SalesOrderConfirmed, amt(300))
	bad := h.salesOrder(sources.SalesOrderConfirmed, nil)

	out, err := h.orch.SyncSalesOrder(context.Background(), h.tenant, ok.ID)
	require.NoError(t, err)
	require.Equal(t, h.tenant, out.TenantID)
	_, err = h.orch.SyncSalesOrder(context.Background(), h.tenant, bad.ID)
	require.NoError(t, err)

	synced := h.events(events.SyncedTopic(string(sources.ModuleSales)))
	require.Len(t, synced, 1)
	require.Equal(t, h.tenant, synced[0].TenantID)
	require.Equal(t, ok.ID, synced[0].SourceID)

	failed := h.events(events.TopicIntegrationError)
	require.Len(t, failed, 1)
	require.Equal(t, h.tenant, failed[0].TenantID)
	require.Equal(t, bad.ID, failed[0].SourceID)
}

func TestNoImpactRecordIsMarked(t *testing.T) {
	h := newHarness(t, Config{})
	h.orch.WithSkipRecorder(h.sources)
	so := h.salesOrder(sources.SalesOrderConfirmed, amt(0))

	out, err := h.orch.SyncSalesOrder(context.Background(), h.tenant, so.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, out.Status)
	require.True(t, h.sources.Skipped(accounting.SourceKey{TenantID: h.tenant, Module: string(sources.ModuleSales), SourceID: so.ID}))

	pending, err := h.sources.CountPending(context.Background(), h.tenant, sources.ModuleSales)
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestHandlersSyncFromDispatchedEvents(t *testing.T) {
	h := newHarness(t, Config{})
	h.dispatcher.SubscribeAll(h.orch.Handlers())
	so := h.salesOrder(sources.SalesOrderConfirmed, amt(300))

	h.dispatcher.Publish(context.Background(), events.TopicSalesOrderConfirmed, events.Event{TenantID: h.tenant, SourceID: so.ID})
	h.dispatcher.Publish(context.Background(), events.TopicSalesOrderCompleted, events.Event{TenantID: h.tenant, SourceID: so.ID})
	h.dispatcher.Publish(context.Background(), events.TopicManufacturingWorkOrderComplete, events.Event{TenantID: h.tenant, SourceID: uuid.New()})
	h.dispatcher.Wait()

	require.Equal(t, 1, h.ledger.Count())
	require.Len(t, h.events(events.SyncedTopic(string(sources.ModuleSales))), 2)
	failures := h.events(events.TopicError)
	require.Len(t, failures, 1)
	require.Equal(t, events.TopicManufacturingWorkOrderComplete, failures[0].Data["topic"])
}

func TestSyncUnknownModule(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.orch.Sync(context.Background(), sources.Module("CRM"), h.tenant, uuid.New())
	require.ErrorIs(t, err, sources.ErrUnknownModule)
}

func TestPostingRulesCoverEveryModule(t *testing.T) {
	seen := map[sources.Module]bool{}
	for _, r := range PostingRules() {
		seen[r.Module] = true
		require.NotEmpty(t, r.Topics, "rule %s/%s has no topic", r.Module, r.Subtype)
	}
	for _, m := range sources.Modules() {
		require.True(t, seen[m], "no rule for %s", m)
	}
}

func TestRetryableClassification(t *testing.T) {
	require.False(t, Retryable(&ValidationError{Field: "total_amount"}))
	require.False(t, Retryable(mappings.ErrMappingNotFound))
	require.False(t, Retryable(&accounting.BalanceError{}))
	require.True(t, Retryable(context.DeadlineExceeded))
}
