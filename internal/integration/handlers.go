package integration

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/odyssey-erp/glsync/internal/events"
	"github.com/odyssey-erp/glsync/internal/sources"
)

// TopicModules maps inbound business topics to the module they sync.
func TopicModules() map[string]sources.Module {
	return map[string]sources.Module{
		events.TopicInventoryMovementCompleted:     sources.ModuleInventory,
		events.TopicInventoryStockAdjusted:         sources.ModuleStockAdjustment,
		events.TopicSalesOrderConfirmed:            sources.ModuleSales,
		events.TopicSalesOrderCompleted:            sources.ModuleSales,
		events.TopicPayrollCycleProcessed:          sources.ModulePayroll,
		events.TopicManufacturingWorkOrderComplete: sources.ModuleManufacturing,
		events.TopicPurchaseOrderReceived:          sources.ModulePurchase,
	}
}

// SyncFunc performs or schedules the sync of one source record.
type SyncFunc func(ctx context.Context, module sources.Module, tenantID, sourceID uuid.UUID) error

// Subscriptions builds dispatcher handlers for every inbound topic.
func Subscriptions(fn SyncFunc) map[string]events.Handler {
	out := make(map[string]events.Handler)
	for topic, module := range TopicModules() {
		module := module
		out[topic] = func(ctx context.Context, evt events.Event) error {
			if evt.TenantID == uuid.Nil || evt.SourceID == uuid.Nil {
				return errors.New("integration: event requires tenant and source id")
			}
			return fn(ctx, module, evt.TenantID, evt.SourceID)
		}
	}
	return out
}

// Handlers returns dispatcher handlers that sync inline. ERROR and SKIPPED
// outcomes are reported by the orchestrator itself; only a missing source record
// surfaces as a handler error.
func (o *Orchestrator) Handlers() map[string]events.Handler {
	return Subscriptions(func(ctx context.Context, module sources.Module, tenantID, sourceID uuid.UUID) error {
		_, err := o.Sync(ctx, module, tenantID, sourceID)
		return err
	})
}
