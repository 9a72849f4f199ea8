package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/glsync/internal/sources"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueLedger carries event-driven sync tasks.
	QueueLedger = "ledger"

	// TaskLedgerSync syncs one source record to the ledger.
	TaskLedgerSync = "ledger:sync"
	// TaskLedgerReconcile sweeps unsynced records.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskGLIntegrity verifies that every tenant ledger balances.
	TaskGLIntegrity = "gl:integrity"

	allTenants = "all"
)

// LedgerSyncPayload identifies the record to sync.
type LedgerSyncPayload struct {
	Module   string `json:"module"`
	TenantID string `json:"tenant_id"`
	SourceID string `json:"source_id"`
}

func (p LedgerSyncPayload) parse() (sources.Module, uuid.UUID, uuid.UUID, error) {
	module, err := sources.ParseModule(p.Module)
	if err != nil {
		return "", uuid.Nil, uuid.Nil, err
	}
	tenantID, err := uuid.Parse(p.TenantID)
	if err != nil {
		return "", uuid.Nil, uuid.Nil, errors.New("jobs: invalid tenant_id")
	}
	sourceID, err := uuid.Parse(p.SourceID)
	if err != nil {
		return "", uuid.Nil, uuid.Nil, errors.New("jobs: invalid source_id")
	}
	return module, tenantID, sourceID, nil
}

// NewLedgerSyncTask creates a sync task. The task id is derived from the source
// key so duplicate events collapse while the task is still queued.
func NewLedgerSyncTask(module sources.Module, tenantID, sourceID uuid.UUID) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerSyncPayload{
		Module:   string(module),
		TenantID: tenantID.String(),
		SourceID: sourceID.String(),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerSync, body, asynq.Queue(QueueLedger), asynq.TaskID(LedgerSyncTaskID(module, tenantID, sourceID)), asynq.MaxRetry(8)), nil
}

// LedgerSyncTaskID is the deterministic task id for a source key.
func LedgerSyncTaskID(module sources.Module, tenantID, sourceID uuid.UUID) string {
	return strings.Join([]string{TaskLedgerSync, tenantID.String(), string(module), sourceID.String()}, ":")
}

// LedgerReconcilePayload scopes a reconciliation run.
type LedgerReconcilePayload struct {
	TenantID string `json:"tenant_id"`
	Module   string `json:"module,omitempty"`
}

// NewLedgerReconcileTask creates a reconcile task. An empty tenant means all tenants.
func NewLedgerReconcileTask(tenantID, module string) (*asynq.Task, error) {
	if tenantID == "" {
		tenantID = allTenants
	}
	body, err := json.Marshal(LedgerReconcilePayload{TenantID: tenantID, Module: module})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body, asynq.Queue(QueueDefault)), nil
}

// GLIntegrityPayload scopes an integrity check.
type GLIntegrityPayload struct {
	TenantID string `json:"tenant_id"`
}

// NewGLIntegrityTask creates an integrity check task.
func NewGLIntegrityTask(tenantID string) (*asynq.Task, error) {
	if tenantID == "" {
		tenantID = allTenants
	}
	body, err := json.Marshal(GLIntegrityPayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// TaskFactory builds a task of the given type from CLI style arguments.
func TaskFactory(taskType, tenant, module string) (*asynq.Task, error) {
	switch taskType {
	case TaskLedgerReconcile:
		return NewLedgerReconcileTask(tenant, module)
	case TaskGLIntegrity:
		return NewGLIntegrityTask(tenant)
	}
	return nil, errors.New("jobs: unsupported task type " + taskType)
}
