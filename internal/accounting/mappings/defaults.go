package mappings

import "github.com/google/uuid"

// Default account codes used when a tenant is seeded without custom configuration.
const (
	AccountInventory        = "1300"
	AccountClearing         = "2000"
	AccountCOGS             = "5000"
	AccountInventoryAdjust  = "5200"
	AccountReceivable       = "1200"
	AccountRevenue          = "4000"
	AccountSalaryExpense    = "6000"
	AccountNetSalaryPayable = "2100"
	AccountTaxPayable       = "2200"
	AccountOtherDeductions  = "2300"
	AccountWorkInProgress   = "1400"
	AccountMfgOverhead      = "5100"
	AccountPayable          = "2010"
)

// DefaultMappings returns the built-in mapping set for a tenant.
func DefaultMappings(tenantID uuid.UUID) []AccountMapping {
	rows := []struct {
		module, subtype, debit, credit string
	}{
		{ModuleInventory, SubtypeIn, AccountInventory, AccountClearing},
		{ModuleInventory, SubtypeOut, AccountCOGS, AccountInventory},
		// Positive adjustments; the builder swaps sides for a negative delta.
		{ModuleInventory, SubtypeAdjustment, AccountInventory, AccountInventoryAdjust},
		{ModuleSales, SubtypeOrder, AccountReceivable, AccountRevenue},
		{ModulePayroll, SubtypeSalary, AccountSalaryExpense, AccountNetSalaryPayable},
		{ModulePayroll, SubtypeTax, AccountSalaryExpense, AccountTaxPayable},
		{ModulePayroll, SubtypeOther, AccountSalaryExpense, AccountOtherDeductions},
		{ModuleManufacturing, SubtypeWorkOrder, AccountWorkInProgress, AccountMfgOverhead},
		{ModulePurchase, SubtypeOrder, AccountInventory, AccountPayable},
	}
	out := make([]AccountMapping, 0, len(rows))
	for _, r := range rows {
		out = append(out, AccountMapping{
			TenantID:          tenantID,
			Module:            r.module,
			Subtype:           r.subtype,
			DebitAccountCode:  r.debit,
			CreditAccountCode: r.credit,
		})
	}
	return out
}
