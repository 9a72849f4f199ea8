package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/glsync/internal/integration"
	"github.com/odyssey-erp/glsync/internal/sources"
)

// Lister enumerates eligible records that have not produced a posting.
type Lister interface {
	ListUnsynced(ctx context.Context, tenantID uuid.UUID, module sources.Module, after uuid.UUID, limit int) ([]uuid.UUID, error)
	CountPending(ctx context.Context, tenantID uuid.UUID, module sources.Module) (int, error)
}

// Syncer is the orchestrator entry point used for every record.
type Syncer interface {
	Sync(ctx context.Context, module sources.Module, tenantID, sourceID uuid.UUID) (integration.SyncOutcome, error)
}

// Config bounds a reconciliation pass. BatchSize is the page size used to walk
// the unsynced set.
type Config struct {
	Concurrency int
	BatchSize   int
}

// Failure describes one record that did not sync.
type Failure struct {
	SourceID uuid.UUID `json:"source_id"`
	Reason   string    `json:"reason"`
}

// Result aggregates the outcomes of one module pass.
type Result struct {
	Module   sources.Module `json:"module"`
	Scanned  int            `json:"scanned"`
	Success  int            `json:"success"`
	Skipped  int            `json:"skipped"`
	Errors   int            `json:"errors"`
	Failures []Failure      `json:"failures,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Reconciler re-drives unsynced records through the orchestrator. It never
// writes to the ledger itself and is safe to run alongside event-driven syncs.
type Reconciler struct {
	lister  Lister
	syncer  Syncer
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
}

// New constructs a reconciler. metrics may be nil.
func New(lister Lister, syncer Syncer, cfg Config, metrics *Metrics, logger *slog.Logger) *Reconciler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{lister: lister, syncer: syncer, cfg: cfg, logger: logger, metrics: metrics}
}

// ReconcileModule syncs every unsynced record of module, one page of BatchSize
// ids at a time. Records that stay unsynced (errors) are passed over by the id
// cursor, so they cannot hide later records. One record's failure never aborts
// the pass.
func (r *Reconciler) ReconcileModule(ctx context.Context, tenantID uuid.UUID, module sources.Module) (Result, error) {
	start := time.Now()
	result := Result{Module: module}
	var mu sync.Mutex
	after := uuid.Nil
	for ctx.Err() == nil {
		ids, err := r.lister.ListUnsynced(ctx, tenantID, module, after, r.cfg.BatchSize)
		if err != nil {
			return result, fmt.Errorf("reconcile: list %s: %w", module, err)
		}
		if len(ids) == 0 {
			break
		}
		result.Scanned += len(ids)
		after = ids[len(ids)-1]

		var g errgroup.Group
		g.SetLimit(r.cfg.Concurrency)
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			id := id
			g.Go(func() error {
				out, err := r.syncer.Sync(ctx, module, tenantID, id)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					result.Errors++
					result.Failures = append(result.Failures, Failure{SourceID: id, Reason: err.Error()})
				case out.Status == integration.StatusSuccess:
					result.Success++
				case out.Status == integration.StatusSkipped:
					result.Skipped++
				default:
					result.Errors++
					result.Failures = append(result.Failures, Failure{SourceID: id, Reason: out.Reason})
				}
				return nil
			})
		}
		_ = g.Wait()
		if len(ids) < r.cfg.BatchSize {
			break
		}
	}
	result.Duration = time.Since(start)
	r.metrics.observe(result)

	r.logger.Info("reconcile module",
		slog.String("tenant_id", tenantID.String()),
		slog.String("module", string(module)),
		slog.Int("scanned", result.Scanned),
		slog.Int("success", result.Success),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// ReconcileTenant reconciles every module for a tenant. Listing failures in
// one module do not stop the others; they are joined into the returned error.
func (r *Reconciler) ReconcileTenant(ctx context.Context, tenantID uuid.UUID) ([]Result, error) {
	var (
		results []Result
		errs    []error
	)
	for _, module := range sources.Modules() {
		res, err := r.ReconcileModule(ctx, tenantID, module)
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return results, errors.Join(errs...)
}

// PendingCounts returns the number of unsynced eligible records per module.
func (r *Reconciler) PendingCounts(ctx context.Context, tenantID uuid.UUID) (map[sources.Module]int, error) {
	counts := make(map[sources.Module]int, len(sources.Modules()))
	for _, module := range sources.Modules() {
		n, err := r.lister.CountPending(ctx, tenantID, module)
		if err != nil {
			return nil, fmt.Errorf("reconcile: count %s: %w", module, err)
		}
		counts[module] = n
		r.metrics.setPending(module, n)
	}
	return counts, nil
}
