package sources

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Module names a business module whose records are synchronised to the ledger.
// The value is also the journal entry's source module.
type Module string

const (
	ModuleInventory       Module = "INVENTORY"
	ModuleStockAdjustment Module = "STOCK_ADJUSTMENT"
	ModuleSales           Module = "SALES"
	ModulePayroll         Module = "PAYROLL"
	ModuleManufacturing   Module = "MANUFACTURING"
	ModulePurchase        Module = "PURCHASE"
)

var (
	// ErrNotFound indicates the source record does not exist for the tenant.
	ErrNotFound = errors.New("sources: record not found")
	// ErrUnknownModule indicates an unsupported module name.
	ErrUnknownModule = errors.New("sources: unknown module")
)

// Modules lists every synchronised module in reconciliation order.
func Modules() []Module {
	return []Module{
		ModuleInventory,
		ModuleStockAdjustment,
		ModuleSales,
		ModulePayroll,
		ModuleManufacturing,
		ModulePurchase,
	}
}

// ParseModule normalises a module name supplied by an operator or a task payload.
func ParseModule(raw string) (Module, error) {
	m := Module(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Modules() {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModule, raw)
}

// Lower returns the module name as used in event topics.
func (m Module) Lower() string {
	return strings.ToLower(string(m))
}

// EligibleStatuses returns the terminal states that require a ledger posting.
func EligibleStatuses(m Module) []string {
	switch m {
	case ModuleInventory:
		return []string{string(MovementCompleted)}
	case ModuleStockAdjustment:
		return []string{string(AdjustmentCompleted)}
	case ModuleSales:
		return []string{string(SalesOrderConfirmed), string(SalesOrderShipped), string(SalesOrderDelivered)}
	case ModulePayroll:
		return []string{string(PayrollProcessing), string(PayrollCompleted), string(PayrollPaid)}
	case ModuleManufacturing:
		return []string{string(WorkOrderCompleted)}
	case ModulePurchase:
		return []string{string(PurchaseOrderReceived), string(PurchaseOrderCompleted)}
	}
	return nil
}

func eligible(m Module, status string) bool {
	for _, s := range EligibleStatuses(m) {
		if s == status {
			return true
		}
	}
	return false
}

// MovementType enumerates stock movement kinds.
type MovementType string

const (
	MovementIn         MovementType = "IN"
	MovementOut        MovementType = "OUT"
	MovementTransfer   MovementType = "TRANSFER"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// MovementStatus enumerates stock movement lifecycle values.
type MovementStatus string

const (
	MovementPending   MovementStatus = "PENDING"
	MovementCompleted MovementStatus = "COMPLETED"
	MovementCancelled MovementStatus = "CANCELLED"
)

// StockMovement is a warehouse stock movement. Amount fields are nil when the
// source row left them empty.
type StockMovement struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Reference  string
	Type       MovementType
	Status     MovementStatus
	Quantity   *float64
	UnitCost   *float64
	OccurredAt time.Time
}

// Eligible reports whether the movement reached its terminal state.
func (m StockMovement) Eligible() bool { return eligible(ModuleInventory, string(m.Status)) }

// AdjustmentStatus enumerates stock adjustment lifecycle values.
type AdjustmentStatus string

const (
	AdjustmentDraft     AdjustmentStatus = "DRAFT"
	AdjustmentCompleted AdjustmentStatus = "COMPLETED"
	AdjustmentCancelled AdjustmentStatus = "CANCELLED"
)

// StockAdjustment corrects on-hand quantity. QuantityDelta is signed.
type StockAdjustment struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Reference     string
	Reason        string
	Status        AdjustmentStatus
	QuantityDelta *float64
	UnitCost      *float64
	AdjustedAt    time.Time
}

// Eligible reports whether the adjustment reached its terminal state.
func (a StockAdjustment) Eligible() bool { return eligible(ModuleStockAdjustment, string(a.Status)) }

// SalesOrderStatus enumerates sales order lifecycle values.
type SalesOrderStatus string

const (
	SalesOrderDraft     SalesOrderStatus = "DRAFT"
	SalesOrderConfirmed SalesOrderStatus = "CONFIRMED"
	SalesOrderShipped   SalesOrderStatus = "SHIPPED"
	SalesOrderDelivered SalesOrderStatus = "DELIVERED"
	SalesOrderCancelled SalesOrderStatus = "CANCELLED"
)

// SalesOrder is a customer order header.
type SalesOrder struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Number    string
	Status    SalesOrderStatus
	Total     *float64
	OrderDate time.Time
}

// Eligible reports whether the order is confirmed or later.
func (o SalesOrder) Eligible() bool { return eligible(ModuleSales, string(o.Status)) }

// PayrollStatus enumerates payroll cycle lifecycle values.
type PayrollStatus string

const (
	PayrollDraft      PayrollStatus = "DRAFT"
	PayrollProcessing PayrollStatus = "PROCESSING"
	PayrollCompleted  PayrollStatus = "COMPLETED"
	PayrollPaid       PayrollStatus = "PAID"
	PayrollCancelled  PayrollStatus = "CANCELLED"
)

// PayrollCycle groups the payslips of one pay period.
type PayrollCycle struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Period   string
	Status   PayrollStatus
	PayDate  time.Time
	Payslips []Payslip
}

// Eligible reports whether the cycle has been processed.
func (c PayrollCycle) Eligible() bool { return eligible(ModulePayroll, string(c.Status)) }

// Payslip carries one employee's pay for a cycle.
type Payslip struct {
	ID              uuid.UUID
	EmployeeRef     string
	Gross           *float64
	Net             *float64
	Tax             *float64
	TotalDeductions *float64
}

// WorkOrderStatus enumerates work order lifecycle values.
type WorkOrderStatus string

const (
	WorkOrderPlanned    WorkOrderStatus = "PLANNED"
	WorkOrderInProgress WorkOrderStatus = "IN_PROGRESS"
	WorkOrderCompleted  WorkOrderStatus = "COMPLETED"
	WorkOrderCancelled  WorkOrderStatus = "CANCELLED"
)

// WorkOrder is a manufacturing order with consumed materials and operations.
type WorkOrder struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Number      string
	Status      WorkOrderStatus
	CompletedAt time.Time
	Materials   []MaterialUsage
	Operations  []Operation
}

// Eligible reports whether the work order is completed.
func (w WorkOrder) Eligible() bool { return eligible(ModuleManufacturing, string(w.Status)) }

// MaterialUsage is a material consumed by a work order.
type MaterialUsage struct {
	ItemRef  string
	Quantity *float64
	UnitCost *float64
}

// Operation is a routing step; ActualHours is the measured duration.
type Operation struct {
	Name        string
	ActualHours *float64
	LaborRate   *float64
}

// PurchaseOrderStatus enumerates purchase order lifecycle values.
type PurchaseOrderStatus string

const (
	PurchaseOrderDraft     PurchaseOrderStatus = "DRAFT"
	PurchaseOrderApproved  PurchaseOrderStatus = "APPROVED"
	PurchaseOrderReceived  PurchaseOrderStatus = "RECEIVED"
	PurchaseOrderCompleted PurchaseOrderStatus = "COMPLETED"
	PurchaseOrderCancelled PurchaseOrderStatus = "CANCELLED"
)

// PurchaseOrder is a supplier order header.
type PurchaseOrder struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Number    string
	Status    PurchaseOrderStatus
	Total     *float64
	OrderDate time.Time
}

// Eligible reports whether goods have been received.
func (p PurchaseOrder) Eligible() bool { return eligible(ModulePurchase, string(p.Status)) }
