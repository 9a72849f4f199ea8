package integrationhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/glsync/internal/accounting"
	"github.com/odyssey-erp/glsync/internal/events"
	"github.com/odyssey-erp/glsync/internal/integration"
	"github.com/odyssey-erp/glsync/internal/platform/httpx"
	"github.com/odyssey-erp/glsync/internal/reconcile"
	"github.com/odyssey-erp/glsync/internal/sources"
)

// Syncer runs one sync attempt.
type Syncer interface {
	Sync(ctx context.Context, module sources.Module, tenantID, sourceID uuid.UUID) (integration.SyncOutcome, error)
}

// Reconciler runs batch reconciliation.
type Reconciler interface {
	ReconcileModule(ctx context.Context, tenantID uuid.UUID, module sources.Module) (reconcile.Result, error)
	ReconcileTenant(ctx context.Context, tenantID uuid.UUID) ([]reconcile.Result, error)
	PendingCounts(ctx context.Context, tenantID uuid.UUID) (map[sources.Module]int, error)
}

// Ledger exposes read access to posted journals.
type Ledger interface {
	GetJournal(ctx context.Context, tenantID, entryID uuid.UUID) (accounting.JournalEntry, error)
	ListJournalEntries(ctx context.Context, filter accounting.ListFilter) ([]accounting.JournalEntry, error)
	TrialBalance(ctx context.Context, tenantID uuid.UUID) ([]accounting.AccountBalance, error)
}

// ReconcileQueue defers reconciliation to the worker.
type ReconcileQueue interface {
	EnqueueReconcile(ctx context.Context, tenantID, module string) error
}

// EnqueueFunc adapts a function to ReconcileQueue.
type EnqueueFunc func(ctx context.Context, tenantID, module string) error

// EnqueueReconcile calls f.
func (f EnqueueFunc) EnqueueReconcile(ctx context.Context, tenantID, module string) error {
	return f(ctx, tenantID, module)
}

// Publisher feeds inbound business events to the dispatcher.
type Publisher interface {
	Publish(ctx context.Context, topic string, evt events.Event)
}

// Reloader refreshes the account mapping table.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Deps collects the handler's collaborators. Syncer and Reconciler are
// required; the rest switch their endpoints off when nil.
type Deps struct {
	Logger     *slog.Logger
	Syncer     Syncer
	Reconciler Reconciler
	Ledger     Ledger
	Queue      ReconcileQueue
	Events     Publisher
	Mappings   Reloader
}

// Handler serves the integration admin endpoints.
type Handler struct {
	syncer     Syncer
	reconciler Reconciler
	ledger     Ledger
	queue      ReconcileQueue
	events     Publisher
	mappings   Reloader
	logger     *slog.Logger
}

// NewHandler builds the handler.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{
		syncer:     deps.Syncer,
		reconciler: deps.Reconciler,
		ledger:     deps.Ledger,
		queue:      deps.Queue,
		events:     deps.Events,
		mappings:   deps.Mappings,
		logger:     deps.Logger,
	}
}

const tenantHeader = "X-Tenant-ID"

// tenantFrom reads the tenant from the header, then the query string.
func tenantFrom(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.Header.Get(tenantHeader))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	}
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: tenant_id required", httpx.ErrValidation)
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: tenant_id must be a uuid", httpx.ErrValidation)
	}
	return id, nil
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	module, err := sources.ParseModule(chi.URLParam(r, "module"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
		return
	}
	sourceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: id must be a uuid", httpx.ErrValidation))
		return
	}

	outcome, err := h.syncer.Sync(r.Context(), module, tenantID, sourceID)
	if err != nil {
		if errors.Is(err, sources.ErrNotFound) {
			httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrNotFound, err))
			return
		}
		h.logger.Error("manual sync", slog.String("module", string(module)), slog.String("source_id", sourceID.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusOK
	if outcome.Status == integration.StatusError {
		status = http.StatusUnprocessableEntity
		if outcome.Retryable {
			status = http.StatusServiceUnavailable
		}
	}
	httpx.JSON(w, status, outcome)
}

type reconcileRequest struct {
	TenantID string `json:"tenant_id" validate:"required,uuid"`
	Module   string `json:"module" validate:"omitempty,max=32"`
	Async    bool   `json:"async"`
}

type reconcileResponse struct {
	Results []reconcile.Result `json:"results,omitempty"`
	Queued  bool               `json:"queued,omitempty"`
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenantID := uuid.MustParse(req.TenantID)

	var module sources.Module
	if req.Module != "" {
		parsed, err := sources.ParseModule(req.Module)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
			return
		}
		module = parsed
	}

	if req.Async {
		if h.queue == nil {
			httpx.RespondError(w, fmt.Errorf("%w: job queue not configured", httpx.ErrUnavailable))
			return
		}
		if err := h.queue.EnqueueReconcile(r.Context(), tenantID.String(), string(module)); err != nil {
			h.logger.Error("enqueue reconcile", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
			httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnavailable, err))
			return
		}
		httpx.JSON(w, http.StatusAccepted, reconcileResponse{Queued: true})
		return
	}

	if module != "" {
		result, err := h.reconciler.ReconcileModule(r.Context(), tenantID, module)
		if err != nil {
			h.logger.Error("reconcile module", slog.String("module", string(module)), slog.Any("error", err))
			httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnavailable, err))
			return
		}
		httpx.JSON(w, http.StatusOK, reconcileResponse{Results: []reconcile.Result{result}})
		return
	}

	results, err := h.reconciler.ReconcileTenant(r.Context(), tenantID)
	if err != nil {
		// Partial results are still reported alongside the failure.
		h.logger.Error("reconcile tenant", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		if len(results) == 0 {
			httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnavailable, err))
			return
		}
	}
	httpx.JSON(w, http.StatusOK, reconcileResponse{Results: results})
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	counts, err := h.reconciler.PendingCounts(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("pending counts", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnavailable, err))
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tenant_id": tenantID, "modules": counts, "total": total})
}

func (h *Handler) rules(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, integration.PostingRules())
}

func (h *Handler) listJournals(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := accounting.ListFilter{TenantID: tenantID}
	if raw := r.URL.Query().Get("module"); raw != "" {
		module, err := sources.ParseModule(raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
			return
		}
		filter.SourceModule = string(module)
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: limit must be a number", httpx.ErrValidation))
			return
		}
		filter.Limit = limit
	}
	entries, err := h.ledger.ListJournalEntries(r.Context(), filter)
	if err != nil {
		h.logger.Error("list journals", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) getJournal(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entryID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: id must be a uuid", httpx.ErrValidation))
		return
	}
	entry, err := h.ledger.GetJournal(r.Context(), tenantID, entryID)
	if err != nil {
		if errors.Is(err, accounting.ErrJournalNotFound) {
			httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrNotFound, err))
			return
		}
		h.logger.Error("get journal", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

type balanceRow struct {
	AccountCode string `json:"account_code"`
	Debit       string `json:"debit"`
	Credit      string `json:"credit"`
	Net         string `json:"net"`
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balances, err := h.ledger.TrialBalance(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("trial balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	rows := make([]balanceRow, 0, len(balances))
	for _, b := range balances {
		rows = append(rows, balanceRow{
			AccountCode: b.AccountCode,
			Debit:       b.Debit.StringFixed(2),
			Credit:      b.Credit.StringFixed(2),
			Net:         b.Net().StringFixed(2),
		})
	}
	httpx.JSON(w, http.StatusOK, rows)
}

type eventRequest struct {
	Topic      string         `json:"topic" validate:"required"`
	TenantID   string         `json:"tenant_id" validate:"required,uuid"`
	SourceID   string         `json:"source_id" validate:"required,uuid"`
	OccurredAt *time.Time     `json:"occurred_at"`
	Data       map[string]any `json:"data"`
}

// ingest accepts a business event from a module that runs out of process.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if _, ok := integration.TopicModules()[req.Topic]; !ok {
		httpx.RespondError(w, fmt.Errorf("%w: unknown topic %q", httpx.ErrValidation, req.Topic))
		return
	}
	evt := events.Event{
		Topic:      req.Topic,
		TenantID:   uuid.MustParse(req.TenantID),
		SourceID:   uuid.MustParse(req.SourceID),
		OccurredAt: time.Now().UTC(),
		Data:       req.Data,
	}
	if req.OccurredAt != nil {
		evt.OccurredAt = req.OccurredAt.UTC()
	}
	h.events.Publish(r.Context(), req.Topic, evt)
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) reloadMappings(w http.ResponseWriter, r *http.Request) {
	if err := h.mappings.Reload(r.Context()); err != nil {
		h.logger.Error("reload mappings", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnavailable, err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
