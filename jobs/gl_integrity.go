package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/glsync/internal/accounting"
	jobmetrics "github.com/odyssey-erp/glsync/internal/jobs"
)

// IntegrityChecker verifies a tenant's ledger balances.
type IntegrityChecker interface {
	CheckLedgerIntegrity(ctx context.Context, tenantID uuid.UUID) error
}

// GLIntegrityJob checks that debits equal credits across each tenant ledger.
type GLIntegrityJob struct {
	Checker IntegrityChecker
	Tenants TenantLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob constructs the job handler.
func NewGLIntegrityJob(checker IntegrityChecker, tenants TenantLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Checker: checker, Tenants: tenants, Logger: logger, Metrics: metrics}
}

// Handle runs the integrity check. An unbalanced ledger fails the task without
// retry; query failures are retried.
func (j *GLIntegrityJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Checker == nil || j.Tenants == nil {
		return errors.New("gl integrity: dependencies not configured")
	}
	var payload GLIntegrityPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tenants, err := resolveTenants(ctx, j.Tenants, payload.TenantID)
	if err != nil {
		return err
	}

	tracker := j.Metrics.Track(TaskGLIntegrity)
	defer func() {
		err = tracker.End(err)
	}()

	var (
		unbalanced []string
		errs       []error
	)
	for _, tenantID := range tenants {
		cerr := j.Checker.CheckLedgerIntegrity(ctx, tenantID)
		var balanceErr *accounting.BalanceError
		switch {
		case cerr == nil:
			continue
		case errors.As(cerr, &balanceErr):
			j.Metrics.AddImbalance(tenantID.String())
			j.log().Error("ledger out of balance",
				slog.String("tenant_id", tenantID.String()),
				slog.String("debit", balanceErr.Debit.StringFixed(2)),
				slog.String("credit", balanceErr.Credit.StringFixed(2)))
			unbalanced = append(unbalanced, tenantID.String())
		default:
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, cerr))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if len(unbalanced) > 0 {
		return fmt.Errorf("%w: unbalanced ledgers %v", asynq.SkipRetry, unbalanced)
	}
	j.log().Info("GL integrity check passed", slog.Int("tenants", len(tenants)))
	return nil
}

func (j *GLIntegrityJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
