package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/glsync/internal/jobs"
	"github.com/odyssey-erp/glsync/internal/reconcile"
	"github.com/odyssey-erp/glsync/internal/sources"
)

// Reconciler runs reconciliation passes.
type Reconciler interface {
	ReconcileModule(ctx context.Context, tenantID uuid.UUID, module sources.Module) (reconcile.Result, error)
	ReconcileTenant(ctx context.Context, tenantID uuid.UUID) ([]reconcile.Result, error)
}

// TenantLister enumerates known tenants.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]uuid.UUID, error)
}

// TenantSet merges several tenant sources, keeping first-seen order.
type TenantSet []TenantLister

func (s TenantSet) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, lister := range s {
		ids, err := lister.ListTenants(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

// LedgerReconcileJob consumes ledger:reconcile tasks.
type LedgerReconcileJob struct {
	Reconciler Reconciler
	Tenants    TenantLister
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewLedgerReconcileJob constructs the job handler.
func NewLedgerReconcileJob(r Reconciler, tenants TenantLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{Reconciler: r, Tenants: tenants, Logger: logger, Metrics: metrics}
}

// Handle reconciles the requested tenants. Record-level failures are reported in
// the logs; only listing failures fail the task.
func (j *LedgerReconcileJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Reconciler == nil || j.Tenants == nil {
		return errors.New("ledger reconcile: dependencies not configured")
	}
	var payload LedgerReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	var module sources.Module
	if payload.Module != "" {
		if module, err = sources.ParseModule(payload.Module); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}
	tenants, err := resolveTenants(ctx, j.Tenants, payload.TenantID)
	if err != nil {
		return err
	}

	tracker := j.Metrics.Track(TaskLedgerReconcile)
	defer func() {
		err = tracker.End(err)
	}()

	var errs []error
	for _, tenantID := range tenants {
		var results []reconcile.Result
		if module != "" {
			res, rerr := j.Reconciler.ReconcileModule(ctx, tenantID, module)
			results, err = []reconcile.Result{res}, rerr
		} else {
			results, err = j.Reconciler.ReconcileTenant(ctx, tenantID)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
		for _, res := range results {
			for _, f := range res.Failures {
				j.log().Warn("reconcile failure",
					slog.String("tenant_id", tenantID.String()),
					slog.String("module", string(res.Module)),
					slog.String("source_id", f.SourceID.String()),
					slog.String("reason", f.Reason))
			}
		}
	}
	return errors.Join(errs...)
}

func (j *LedgerReconcileJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func resolveTenants(ctx context.Context, lister TenantLister, raw string) ([]uuid.UUID, error) {
	if raw == "" || raw == allTenants {
		return lister.ListTenants(ctx)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid tenant %q", asynq.SkipRetry, raw)
	}
	return []uuid.UUID{id}, nil
}
