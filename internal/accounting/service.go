package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/glsync/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindBySource(ctx context.Context, key SourceKey) (JournalEntry, error)
	GetJournal(ctx context.Context, tenantID, entryID uuid.UUID) (JournalEntry, error)
	ListJournalEntries(ctx context.Context, filter ListFilter) ([]JournalEntry, error)
	TrialBalance(ctx context.Context, tenantID uuid.UUID) ([]AccountBalance, error)
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Locker serialises postings that share a source key.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Service is the only writer of journal and ledger rows.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	locker Locker
	now    func() time.Time
	newID  func() uuid.UUID
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort, locker Locker) *Service {
	if locker == nil {
		locker = shared.NewKeyedMutex()
	}
	return &Service{repo: repo, audit: audit, locker: locker, now: time.Now, newID: uuid.New}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Post validates and persists a balanced journal entry for a source event. A
// second post for the same source key returns the existing entry unchanged.
func (s *Service) Post(ctx context.Context, input PostingInput) (PostResult, error) {
	if err := input.validateHeader(); err != nil {
		return PostResult{}, err
	}
	key := input.Key()
	release, err := s.locker.Acquire(ctx, key.String())
	if err != nil {
		return PostResult{}, fmt.Errorf("accounting: lock %s: %w", key, err)
	}
	defer release()

	existing, err := s.repo.FindBySource(ctx, key)
	switch {
	case err == nil:
		return PostResult{Entry: existing, Duplicate: true}, nil
	case !errors.Is(err, ErrJournalNotFound):
		return PostResult{}, err
	}

	if err := ValidateLines(input.Lines); err != nil {
		return PostResult{}, err
	}
	if err := CheckBalance(input.Lines); err != nil {
		return PostResult{}, err
	}

	entry := s.draft(input)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertJournalEntry(ctx, entry); err != nil {
			return err
		}
		if err := tx.InsertJournalLines(ctx, entry.Lines); err != nil {
			return err
		}
		if err := tx.InsertLedgerEntries(ctx, s.ledgerEntries(entry)); err != nil {
			return err
		}
		postedAt := s.now().UTC()
		if err := tx.UpdateJournalStatus(ctx, entry.ID, JournalStatusDraft, JournalStatusPosted, postedAt); err != nil {
			return err
		}
		entry.Status = JournalStatusPosted
		entry.PostedAt = &postedAt
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSourceConflict) {
			// Another writer committed first; its entry is the one of record.
			winner, findErr := s.repo.FindBySource(ctx, key)
			if findErr != nil {
				return PostResult{}, fmt.Errorf("accounting: load conflicting entry: %w", findErr)
			}
			return PostResult{Entry: winner, Duplicate: true}, nil
		}
		return PostResult{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: input.TenantID,
			ActorID:  "system",
			Action:   "journal.post",
			Entity:   "journal_entry",
			EntityID: entry.ID.String(),
			Meta: map[string]any{
				"source_module": input.SourceModule,
				"source_id":     input.SourceID.String(),
				"lines":         len(entry.Lines),
			},
			At: s.now(),
		})
	}
	return PostResult{Entry: entry}, nil
}

func (s *Service) draft(input PostingInput) JournalEntry {
	now := s.now().UTC()
	postDate := input.PostDate
	if postDate.IsZero() {
		postDate = now
	}
	entry := JournalEntry{
		ID:           s.newID(),
		TenantID:     input.TenantID,
		Description:  input.Description,
		PostDate:     postDate,
		Status:       JournalStatusDraft,
		SourceModule: input.SourceModule,
		SourceID:     input.SourceID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	entry.Lines = make([]JournalLine, 0, len(input.Lines))
	for _, line := range input.Lines {
		entry.Lines = append(entry.Lines, JournalLine{
			ID:             s.newID(),
			JournalEntryID: entry.ID,
			AccountCode:    line.AccountCode,
			Debit:          line.Debit,
			Credit:         line.Credit,
		})
	}
	return entry
}

func (s *Service) ledgerEntries(entry JournalEntry) []LedgerEntry {
	now := s.now().UTC()
	out := make([]LedgerEntry, 0, len(entry.Lines))
	for _, line := range entry.Lines {
		out = append(out, LedgerEntry{
			ID:             s.newID(),
			TenantID:       entry.TenantID,
			JournalEntryID: entry.ID,
			JournalLineID:  line.ID,
			AccountCode:    line.AccountCode,
			Debit:          line.Debit,
			Credit:         line.Credit,
			PostDate:       entry.PostDate,
			CreatedAt:      now,
		})
	}
	return out
}

// FindBySource returns the entry posted for the source key.
func (s *Service) FindBySource(ctx context.Context, key SourceKey) (JournalEntry, error) {
	return s.repo.FindBySource(ctx, key)
}

// GetJournal loads a journal entry with its lines.
func (s *Service) GetJournal(ctx context.Context, tenantID, entryID uuid.UUID) (JournalEntry, error) {
	if tenantID == uuid.Nil || entryID == uuid.Nil {
		return JournalEntry{}, errors.New("accounting: tenant and entry id required")
	}
	return s.repo.GetJournal(ctx, tenantID, entryID)
}

// ListJournalEntries retrieves journal headers for a tenant.
func (s *Service) ListJournalEntries(ctx context.Context, filter ListFilter) ([]JournalEntry, error) {
	if filter.TenantID == uuid.Nil {
		return nil, errors.New("accounting: tenant required")
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListJournalEntries(ctx, filter)
}

// TrialBalance aggregates posted ledger entries per account.
func (s *Service) TrialBalance(ctx context.Context, tenantID uuid.UUID) ([]AccountBalance, error) {
	if tenantID == uuid.Nil {
		return nil, errors.New("accounting: tenant required")
	}
	return s.repo.TrialBalance(ctx, tenantID)
}

// CheckLedgerIntegrity verifies that the tenant's ledger sums to zero.
func (s *Service) CheckLedgerIntegrity(ctx context.Context, tenantID uuid.UUID) error {
	balances, err := s.TrialBalance(ctx, tenantID)
	if err != nil {
		return err
	}
	debit, credit := decimal.Zero, decimal.Zero
	for _, b := range balances {
		debit = debit.Add(b.Debit)
		credit = credit.Add(b.Credit)
	}
	if debit.Sub(credit).Abs().GreaterThan(BalanceTolerance) {
		return &BalanceError{Debit: debit, Credit: credit}
	}
	return nil
}
