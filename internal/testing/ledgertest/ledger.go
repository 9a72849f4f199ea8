// Package ledgertest provides in-memory ledger and source stores for tests.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/glsync/internal/accounting"
	_ "github.com/odyssey-erp/glsync/testing"
)

// Ledger is an in-memory accounting.RepositoryPort. Commits are atomic and the
// source key is unique, mirroring the database constraints.
type Ledger struct {
	mu       sync.Mutex
	entries  map[uuid.UUID]accounting.JournalEntry
	bySource map[accounting.SourceKey]uuid.UUID
	ledger   []accounting.LedgerEntry

	// FailPost, when set, is returned from the next transaction.
	FailPost error
	// Delay holds every transaction open before commit. A context that ends
	// during the delay rolls the transaction back.
	Delay time.Duration
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		entries:  make(map[uuid.UUID]accounting.JournalEntry),
		bySource: make(map[accounting.SourceKey]uuid.UUID),
	}
}

type tx struct {
	entry  accounting.JournalEntry
	lines  []accounting.JournalLine
	ledger []accounting.LedgerEntry
	posted *time.Time
}

func (l *Ledger) WithTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	fail := l.FailPost
	l.FailPost = nil
	delay := l.Delay
	l.mu.Unlock()
	if fail != nil {
		return fail
	}

	t := &tx{}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := accounting.SourceKey{TenantID: t.entry.TenantID, Module: t.entry.SourceModule, SourceID: t.entry.SourceID}
	if _, ok := l.bySource[key]; ok {
		return accounting.ErrSourceConflict
	}
	entry := t.entry
	entry.Lines = t.lines
	entry.PostedAt = t.posted
	l.entries[entry.ID] = entry
	l.bySource[key] = entry.ID
	l.ledger = append(l.ledger, t.ledger...)
	return nil
}

func (t *tx) InsertJournalEntry(ctx context.Context, entry accounting.JournalEntry) error {
	t.entry = entry
	return nil
}

func (t *tx) InsertJournalLines(ctx context.Context, lines []accounting.JournalLine) error {
	t.lines = append(t.lines, lines...)
	return nil
}

func (t *tx) InsertLedgerEntries(ctx context.Context, entries []accounting.LedgerEntry) error {
	t.ledger = append(t.ledger, entries...)
	return nil
}

func (t *tx) UpdateJournalStatus(ctx context.Context, id uuid.UUID, from, to accounting.JournalStatus, postedAt time.Time) error {
	if t.entry.ID != id || t.entry.Status != from {
		return accounting.ErrInvalidStatus
	}
	t.entry.Status = to
	t.posted = &postedAt
	return nil
}

func (l *Ledger) FindBySource(ctx context.Context, key accounting.SourceKey) (accounting.JournalEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.bySource[key]
	if !ok {
		return accounting.JournalEntry{}, accounting.ErrJournalNotFound
	}
	return l.entries[id], nil
}

func (l *Ledger) GetJournal(ctx context.Context, tenantID, entryID uuid.UUID) (accounting.JournalEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[entryID]
	if !ok || e.TenantID != tenantID {
		return accounting.JournalEntry{}, accounting.ErrJournalNotFound
	}
	return e, nil
}

func (l *Ledger) ListJournalEntries(ctx context.Context, filter accounting.ListFilter) ([]accounting.JournalEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []accounting.JournalEntry
	for _, e := range l.entries {
		if e.TenantID != filter.TenantID {
			continue
		}
		if filter.SourceModule != "" && e.SourceModule != filter.SourceModule {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (l *Ledger) TrialBalance(ctx context.Context, tenantID uuid.UUID) ([]accounting.AccountBalance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	totals := make(map[string]*accounting.AccountBalance)
	for _, le := range l.ledger {
		if le.TenantID != tenantID {
			continue
		}
		b, ok := totals[le.AccountCode]
		if !ok {
			b = &accounting.AccountBalance{AccountCode: le.AccountCode}
			totals[le.AccountCode] = b
		}
		b.Debit = b.Debit.Add(decimal.NewFromFloat(le.Debit))
		b.Credit = b.Credit.Add(decimal.NewFromFloat(le.Credit))
	}
	out := make([]accounting.AccountBalance, 0, len(totals))
	for _, b := range totals {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountCode < out[j].AccountCode })
	return out, nil
}

// Entries returns every committed journal entry.
func (l *Ledger) Entries() []accounting.JournalEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]accounting.JournalEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	return out
}

// Count returns the number of committed journal entries.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// LedgerRows returns the number of ledger entries.
func (l *Ledger) LedgerRows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ledger)
}

// Posted reports whether a journal entry exists for the key.
func (l *Ledger) Posted(key accounting.SourceKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.bySource[key]
	return ok
}
