package integration

import (
	"math"

	"github.com/odyssey-erp/glsync/internal/accounting"
)

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func monetary(qty, unitCost float64) float64 {
	return round2(qty * unitCost)
}

func abs(value float64) float64 {
	if value < 0 {
		return -value
	}
	return value
}

// pair returns a two-line debit/credit set for amount.
func pair(debitAccount, creditAccount string, amount float64) []accounting.LineInput {
	return []accounting.LineInput{
		{AccountCode: debitAccount, Debit: amount},
		{AccountCode: creditAccount, Credit: amount},
	}
}
