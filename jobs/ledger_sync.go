package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/glsync/internal/integration"
	jobmetrics "github.com/odyssey-erp/glsync/internal/jobs"
	"github.com/odyssey-erp/glsync/internal/sources"
)

// Syncer performs one orchestrated sync.
type Syncer interface {
	Sync(ctx context.Context, module sources.Module, tenantID, sourceID uuid.UUID) (integration.SyncOutcome, error)
}

// LedgerSyncJob consumes ledger:sync tasks produced in queue mode.
type LedgerSyncJob struct {
	Syncer  Syncer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerSyncJob constructs the job handler.
func NewLedgerSyncJob(syncer Syncer, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerSyncJob {
	return &LedgerSyncJob{Syncer: syncer, Logger: logger, Metrics: metrics}
}

// Handle runs the sync. Malformed payloads, missing records and outcomes that
// need operator action are not retried; transient failures are.
func (j *LedgerSyncJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Syncer == nil {
		return errors.New("ledger sync: dependencies not configured")
	}
	var payload LedgerSyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	module, tenantID, sourceID, err := payload.parse()
	if err != nil {
		j.log().Warn("ledger sync payload", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	tracker := j.Metrics.Track(TaskLedgerSync)
	defer func() {
		err = tracker.End(err)
	}()

	out, err := j.Syncer.Sync(ctx, module, tenantID, sourceID)
	switch {
	case errors.Is(err, sources.ErrNotFound):
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	case err != nil:
		return err
	case out.Status == integration.StatusError && out.Retryable:
		return fmt.Errorf("ledger sync %s %s: %s", module, sourceID, out.Reason)
	case out.Status == integration.StatusError:
		return fmt.Errorf("%w: ledger sync %s %s: %s", asynq.SkipRetry, module, sourceID, out.Reason)
	}
	return nil
}

func (j *LedgerSyncJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
