package events

import "strings"

// Inbound topics published by business modules on state transitions.
const (
	TopicInventoryMovementCompleted     = "inventory.movement.completed"
	TopicInventoryStockAdjusted         = "inventory.stock.adjusted"
	TopicSalesOrderConfirmed            = "sales.order.confirmed"
	TopicSalesOrderCompleted            = "sales.order.completed"
	TopicPayrollCycleProcessed          = "payroll.cycle.processed"
	TopicManufacturingWorkOrderComplete = "manufacturing.workorder.completed"
	TopicPurchaseOrderReceived          = "purchase.order.received"
)

// Outbound topics.
const (
	// TopicIntegrationError carries failed sync outcomes.
	TopicIntegrationError = "integration.error"
	// TopicError carries handler failures reported by the dispatcher itself.
	TopicError = "error"
)

// SyncedTopic returns the success topic for a module, e.g. integration.sales.synced.
func SyncedTopic(module string) string {
	return "integration." + strings.ToLower(module) + ".synced"
}
