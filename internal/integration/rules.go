package integration

import (
	"sort"

	"github.com/odyssey-erp/glsync/internal/accounting/mappings"
	"github.com/odyssey-erp/glsync/internal/sources"
)

// PostingRule documents how one module event becomes journal lines.
type PostingRule struct {
	Module           sources.Module `json:"module"`
	Subtype          string         `json:"subtype"`
	Topics           []string       `json:"topics"`
	EligibleStatuses []string       `json:"eligible_statuses"`
	Debit            string         `json:"debit"`
	Credit           string         `json:"credit"`
	Amount           string         `json:"amount"`
}

// PostingRules returns the static posting rule documentation.
func PostingRules() []PostingRule {
	topics := make(map[sources.Module][]string)
	for topic, module := range TopicModules() {
		topics[module] = append(topics[module], topic)
	}
	for _, list := range topics {
		sort.Strings(list)
	}
	rule := func(module sources.Module, subtype, debit, credit, amount string) PostingRule {
		return PostingRule{
			Module:           module,
			Subtype:          subtype,
			Topics:           topics[module],
			EligibleStatuses: sources.EligibleStatuses(module),
			Debit:            debit,
			Credit:           credit,
			Amount:           amount,
		}
	}
	return []PostingRule{
		rule(sources.ModuleInventory, mappings.SubtypeIn, "Inventory", "Cash/Payables clearing", "quantity x unit cost"),
		rule(sources.ModuleInventory, mappings.SubtypeOut, "Cost of goods sold", "Inventory", "quantity x unit cost"),
		rule(sources.ModuleInventory, "TRANSFER", "-", "-", "no GL impact, reported as skipped"),
		rule(sources.ModuleInventory, mappings.SubtypeAdjustment, "Inventory (decrease: adjustment account)", "Inventory adjustment (decrease: inventory)", "|quantity| x unit cost"),
		rule(sources.ModuleStockAdjustment, mappings.SubtypeAdjustment, "Inventory (decrease: adjustment account)", "Inventory adjustment (decrease: inventory)", "|quantity delta| x unit cost"),
		rule(sources.ModuleSales, mappings.SubtypeOrder, "Accounts receivable", "Revenue", "order total"),
		rule(sources.ModulePayroll, mappings.SubtypeSalary, "Salary expense", "Net salary payable", "sum of gross pay / sum of net pay"),
		rule(sources.ModulePayroll, mappings.SubtypeTax, "-", "Tax payable", "sum of tax deductions"),
		rule(sources.ModulePayroll, mappings.SubtypeOther, "-", "Other deductions payable", "sum of total deductions less tax, omitted when zero"),
		rule(sources.ModuleManufacturing, mappings.SubtypeWorkOrder, "Work in progress", "Manufacturing overhead", "(materials + hours x labour rate) x overhead multiplier"),
		rule(sources.ModulePurchase, mappings.SubtypeOrder, "Inventory/Expense", "Accounts payable", "order total"),
	}
}
