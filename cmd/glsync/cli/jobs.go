package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/glsync/internal/sources"
	"github.com/odyssey-erp/glsync/jobs"
)

// Inspector is the subset of *asynq.Inspector used by the CLI.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    jobs.Enqueuer
	inspector Inspector
}

// NewJobsCLI initialises the CLI helpers against redis.
func NewJobsCLI(redisOpts asynq.RedisClientOpt) (*JobsCLI, error) {
	return &JobsCLI{client: asynq.NewClient(redisOpts), inspector: asynq.NewInspector(redisOpts)}, nil
}

// NewJobsCLIWith builds the CLI from existing clients.
func NewJobsCLIWith(client jobs.Enqueuer, inspector Inspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// Trigger enqueues a reconcile or integrity job. An empty tenant targets every tenant.
func (c *JobsCLI) Trigger(ctx context.Context, name, tenant, module string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	if module != "" {
		parsed, err := sources.ParseModule(module)
		if err != nil {
			return nil, err
		}
		module = string(parsed)
	}
	task, err := jobs.TaskFactory(name, tenant, module)
	if err != nil {
		return nil, fmt.Errorf("jobs cli: %w", err)
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// Sync enqueues a ledger sync for one record.
func (c *JobsCLI) Sync(ctx context.Context, module, tenant, source string) error {
	if c == nil || c.client == nil {
		return errors.New("jobs cli: client not configured")
	}
	m, err := sources.ParseModule(module)
	if err != nil {
		return err
	}
	tenantID, err := uuid.Parse(tenant)
	if err != nil {
		return fmt.Errorf("jobs cli: tenant: %w", err)
	}
	sourceID, err := uuid.Parse(source)
	if err != nil {
		return fmt.Errorf("jobs cli: source: %w", err)
	}
	client := jobs.NewClientWith(c.client)
	if ti, ok := c.inspector.(jobs.TaskInspector); ok {
		client.WithInspector(ti)
	}
	return client.EnqueueSync(ctx, m, tenantID, sourceID)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueues reports the ledger and default queues.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	out := make([]QueueStats, 0, 2)
	for _, queue := range []string{jobs.QueueLedger, jobs.QueueDefault} {
		info, err := c.inspector.GetQueueInfo(queue)
		if err != nil {
			return nil, fmt.Errorf("jobs cli: queue %s: %w", queue, err)
		}
		stats := QueueStats{Queue: queue}
		if info != nil {
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
			stats.Archived = info.Archived
		}
		out = append(out, stats)
	}
	return out, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}
