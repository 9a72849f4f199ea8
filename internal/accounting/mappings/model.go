package mappings

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/glsync/internal/accounting/shared"
)

// Mapping modules.
const (
	ModuleInventory     = "INVENTORY"
	ModuleSales         = "SALES"
	ModulePayroll       = "PAYROLL"
	ModuleManufacturing = "MANUFACTURING"
	ModulePurchase      = "PURCHASE"
)

// Event subtypes that select a mapping within a module.
const (
	SubtypeIn         = "IN"
	SubtypeOut        = "OUT"
	SubtypeAdjustment = "ADJUSTMENT"
	SubtypeOrder      = "ORDER"
	SubtypeSalary     = "SALARY"
	SubtypeTax        = "TAX"
	SubtypeOther      = "OTHER"
	SubtypeWorkOrder  = "WORK_ORDER"
)

// ErrMappingNotFound indicates that no mapping is configured for the lookup key.
var ErrMappingNotFound = shared.ErrMappingNotFound

// AccountMapping links a tenant's business event subtype to ledger accounts.
type AccountMapping struct {
	TenantID          uuid.UUID
	Module            string
	Subtype           string
	DebitAccountCode  string
	CreditAccountCode string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type mappingKey struct {
	tenant  uuid.UUID
	module  string
	subtype string
}

func (m AccountMapping) key() mappingKey {
	return keyOf(m.TenantID, m.Module, m.Subtype)
}
