package accounting

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/glsync/internal/accounting/shared"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusDraft  JournalStatus = "DRAFT"
	JournalStatusPosted JournalStatus = "POSTED"
)

// BalanceTolerance is the largest debit/credit difference accepted as balanced.
var BalanceTolerance = decimal.NewFromFloat(0.01)

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID           uuid.UUID     `json:"id"`
	TenantID     uuid.UUID     `json:"tenant_id"`
	Description  string        `json:"description"`
	PostDate     time.Time     `json:"post_date"`
	Status       JournalStatus `json:"status"`
	SourceModule string        `json:"source_module"`
	SourceID     uuid.UUID     `json:"source_id"`
	PostedAt     *time.Time    `json:"posted_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Lines        []JournalLine `json:"lines,omitempty"`
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID             uuid.UUID `json:"id"`
	JournalEntryID uuid.UUID `json:"journal_entry_id"`
	AccountCode    string    `json:"account_code"`
	Debit          float64   `json:"debit"`
	Credit         float64   `json:"credit"`
}

// LedgerEntry is the immutable posted counterpart of a journal line.
type LedgerEntry struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	JournalEntryID uuid.UUID
	JournalLineID  uuid.UUID
	AccountCode    string
	Debit          float64
	Credit         float64
	PostDate       time.Time
	CreatedAt      time.Time
}

// AccountBalance aggregates ledger entries for one account.
type AccountBalance struct {
	AccountCode string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// Net returns debit minus credit.
func (b AccountBalance) Net() decimal.Decimal {
	return b.Debit.Sub(b.Credit)
}

// LineInput describes a journal line for posting request.
type LineInput struct {
	AccountCode string
	Debit       float64
	Credit      float64
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	TenantID     uuid.UUID
	SourceModule string
	SourceID     uuid.UUID
	Description  string
	PostDate     time.Time
	Lines        []LineInput
}

// Key returns the idempotency key of the posting.
func (in PostingInput) Key() SourceKey {
	return SourceKey{TenantID: in.TenantID, Module: in.SourceModule, SourceID: in.SourceID}
}

// PostResult reports the entry owning the source key and whether it already existed.
type PostResult struct {
	Entry     JournalEntry
	Duplicate bool
}

// SourceKey identifies the business event a journal entry was posted for.
type SourceKey struct {
	TenantID uuid.UUID
	Module   string
	SourceID uuid.UUID
}

func (k SourceKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.TenantID, k.Module, k.SourceID)
}

// ListFilter narrows journal listings.
type ListFilter struct {
	TenantID     uuid.UUID
	SourceModule string
	Limit        int
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = shared.ErrUnbalanced
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = shared.ErrTooFewLines
	// ErrInvalidLine indicates a line carrying both or neither side.
	ErrInvalidLine = shared.ErrInvalidLine
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = shared.ErrJournalNotFound
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = shared.ErrInvalidStatus
	// ErrSourceConflict indicates the source key is already owned by another entry.
	ErrSourceConflict = shared.ErrSourceConflict
)

// BalanceError reports the totals of an unbalanced line set.
type BalanceError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("accounting: journal lines must balance (debit %s, credit %s)", e.Debit.StringFixed(2), e.Credit.StringFixed(2))
}

func (e *BalanceError) Unwrap() error {
	return ErrUnbalanced
}

// Totals sums debit and credit sides of the lines.
func Totals(lines []LineInput) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range lines {
		debit = debit.Add(decimal.NewFromFloat(line.Debit))
		credit = credit.Add(decimal.NewFromFloat(line.Credit))
	}
	return debit, credit
}

// CheckBalance returns a *BalanceError when the lines differ by more than BalanceTolerance.
func CheckBalance(lines []LineInput) error {
	debit, credit := Totals(lines)
	if debit.Sub(credit).Abs().GreaterThan(BalanceTolerance) {
		return &BalanceError{Debit: debit, Credit: credit}
	}
	return nil
}

// ValidateLines checks line shape: each line carries exactly one positive side.
func ValidateLines(lines []LineInput) error {
	if len(lines) < 2 {
		return ErrTooFewLines
	}
	for idx, line := range lines {
		if strings.TrimSpace(line.AccountCode) == "" {
			return fmt.Errorf("%w: line %d missing account", ErrInvalidLine, idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("%w: line %d negative amount", ErrInvalidLine, idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return fmt.Errorf("%w: line %d cannot be both debit and credit", ErrInvalidLine, idx)
		}
		if line.Debit == 0 && line.Credit == 0 {
			return fmt.Errorf("%w: line %d has no amount", ErrInvalidLine, idx)
		}
	}
	return nil
}

// Validate ensures posting input meets minimum criteria.
func (in PostingInput) Validate() error {
	if err := in.validateHeader(); err != nil {
		return err
	}
	return ValidateLines(in.Lines)
}

func (in PostingInput) validateHeader() error {
	if in.TenantID == uuid.Nil {
		return errors.New("accounting: tenant required")
	}
	if in.SourceModule == "" {
		return errors.New("accounting: source module required")
	}
	if in.SourceID == uuid.Nil {
		return errors.New("accounting: source id required")
	}
	return nil
}
