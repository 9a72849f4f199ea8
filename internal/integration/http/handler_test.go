package integrationhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/glsync/internal/accounting"
	"github.com/odyssey-erp/glsync/internal/accounting/mappings"
	"github.com/odyssey-erp/glsync/internal/events"
	"github.com/odyssey-erp/glsync/internal/integration"
	"github.com/odyssey-erp/glsync/internal/reconcile"
	"github.com/odyssey-erp/glsync/internal/sources"
	"github.com/odyssey-erp/glsync/internal/testing/ledgertest"
	_ "github.com/odyssey-erp/glsync/testing"
)

type fixture struct {
	tenant     uuid.UUID
	ledger     *ledgertest.Ledger
	sources    *ledgertest.Sources
	router     chi.Router
	queued     []string
	dispatcher *events.Dispatcher
}

func newFixture(t *testing.T, withQueue bool) *fixture {
	t.Helper()
	f := &fixture{tenant: uuid.New(), ledger: ledgertest.NewLedger()}
	f.sources = ledgertest.NewSources(f.ledger)
	svc := accounting.NewService(f.ledger, nil, nil)
	orch := integration.NewOrchestrator(f.sources, mappings.NewStaticTable(mappings.DefaultMappings(f.tenant)...), svc, nil, integration.Config{}, nil)
	rec := reconcile.New(f.sources, orch, reconcile.Config{Concurrency: 2}, nil, nil)

	var queue ReconcileQueue
	if withQueue {
		queue = EnqueueFunc(func(ctx context.Context, tenantID, module string) error {
			f.queued = append(f.queued, tenantID+"/"+module)
			return nil
		})
	}
	f.router = chi.NewRouter()
	f.dispatcher = events.NewDispatcher(nil)
	f.dispatcher.SubscribeAll(orch.Handlers())
	f.router.Route("/integration", NewHandler(Deps{
		Syncer:     orch,
		Reconciler: rec,
		Ledger:     svc,
		Queue:      queue,
		Events:     f.dispatcher,
		Mappings:   mappings.NewStaticTable(),
	}).MountRoutes)
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set(tenantHeader, f.tenant.String())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) confirmedOrder(total float64) uuid.UUID {
	id := uuid.New()
	f.sources.PutSalesOrder(sources.SalesOrder{ID: id, TenantID: f.tenant, Number: "SO-7", Status: sources.SalesOrderConfirmed, Total: ledgertest.Amount(total), OrderDate: time.Now()})
	return id
}

func TestSyncEndpointPostsAndReportsOutcome(t *testing.T) {
	f := newFixture(t, false)
	id := f.confirmedOrder(2500)

	rec := f.do(http.MethodPost, "/integration/sync/sales/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out integration.SyncOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, integration.StatusSuccess, out.Status)
	require.NotNil(t, out.JournalEntryID)

	rec = f.do(http.MethodPost, "/integration/sync/SALES/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.Duplicate)
	require.Equal(t, 1, f.ledger.Count())

	rec = f.do(http.MethodGet, "/integration/journals/"+out.JournalEntryID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entry accounting.JournalEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	require.Len(t, entry.Lines, 2)
}

func TestSyncEndpointErrors(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(http.MethodPost, "/integration/sync/sales/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/integration/sync/ledger/"+uuid.NewString(), "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/integration/sync/sales/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	id := uuid.New()
	f.sources.PutSalesOrder(sources.SalesOrder{ID: id, TenantID: f.tenant, Number: "SO-8", Status: sources.SalesOrderConfirmed, OrderDate: time.Now()})
	rec = f.do(http.MethodPost, "/integration/sync/sales/"+id.String(), "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/integration/sync/sales/"+id.String(), nil)
	missing := httptest.NewRecorder()
	f.router.ServeHTTP(missing, req)
	require.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestReconcileAndPendingEndpoints(t *testing.T) {
	f := newFixture(t, false)
	f.confirmedOrder(100)
	f.confirmedOrder(200)

	rec := f.do(http.MethodGet, "/integration/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending struct {
		Modules map[string]int `json:"modules"`
		Total   int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Equal(t, 2, pending.Modules["SALES"])
	require.Equal(t, 2, pending.Total)

	rec = f.do(http.MethodPost, "/integration/reconcile", `{"tenant_id":"`+f.tenant.String()+`","module":"sales"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Results []reconcile.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	require.Equal(t, 2, resp.Results[0].Success)
	require.Equal(t, 2, f.ledger.Count())

	rec = f.do(http.MethodPost, "/integration/reconcile", `{"tenant_id":"`+f.tenant.String()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, len(sources.Modules()))

	rec = f.do(http.MethodGet, "/integration/trial-balance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"account_code":"1200"`)
	require.Contains(t, rec.Body.String(), `"debit":"300.00"`)
}

func TestReconcileValidation(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(http.MethodPost, "/integration/reconcile", `{"tenant_id":"nope"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/integration/reconcile", `{"tenant_id":"`+f.tenant.String()+`","module":"ledger"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/integration/reconcile", `{"tenant_id":"`+f.tenant.String()+`","async":true}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReconcileAsyncEnqueues(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(http.MethodPost, "/integration/reconcile", `{"tenant_id":"`+f.tenant.String()+`","module":"payroll","async":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{f.tenant.String() + "/PAYROLL"}, f.queued)
	require.Zero(t, f.ledger.Count())
}

func TestRulesEndpoint(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(http.MethodGet, "/integration/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rules []integration.PostingRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	require.Len(t, rules, len(integration.PostingRules()))
}

type failingReconciler struct{}

func (failingReconciler) ReconcileModule(context.Context, uuid.UUID, sources.Module) (reconcile.Result, error) {
	return reconcile.Result{}, errors.New("db down")
}

func (failingReconciler) ReconcileTenant(context.Context, uuid.UUID) ([]reconcile.Result, error) {
	return nil, errors.New("db down")
}

func (failingReconciler) PendingCounts(context.Context, uuid.UUID) (map[sources.Module]int, error) {
	return nil, errors.New("db down")
}

func TestInfrastructureFailuresReturnUnavailable(t *testing.T) {
	tenant := uuid.New()
	r := chi.NewRouter()
	r.Route("/integration", NewHandler(Deps{Reconciler: failingReconciler{}}).MountRoutes)

	req := httptest.NewRequest(http.MethodGet, "/integration/pending?tenant_id="+tenant.String(), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/integration/reconcile", strings.NewReader(`{"tenant_id":"`+tenant.String()+`"}`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/integration/journals?tenant_id="+tenant.String(), nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventIngestTriggersSync(t *testing.T) {
	f := newFixture(t, false)
	id := f.confirmedOrder(750)

	body := `{"topic":"` + events.TopicSalesOrderConfirmed + `","tenant_id":"` + f.tenant.String() + `","source_id":"` + id.String() + `"}`
	rec := f.do(http.MethodPost, "/integration/events", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	f.dispatcher.Wait()
	require.Equal(t, 1, f.ledger.Count())

	rec = f.do(http.MethodPost, "/integration/events", `{"topic":"hr.employee.hired","tenant_id":"`+f.tenant.String()+`","source_id":"`+id.String()+`"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMappingReloadEndpoint(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(http.MethodPost, "/integration/mappings/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
