package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/glsync/internal/platform/db"
)

const sourceConstraint = "uq_journal_entries_source"

// Repository persists accounting entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertJournalEntry(ctx context.Context, entry JournalEntry) error
	InsertJournalLines(ctx context.Context, lines []JournalLine) error
	InsertLedgerEntries(ctx context.Context, entries []LedgerEntry) error
	UpdateJournalStatus(ctx context.Context, entryID uuid.UUID, from, to JournalStatus, postedAt time.Time) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	if isSourceConflict(err) {
		return ErrSourceConflict
	}
	return err
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, entry JournalEntry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO journal_entries (id, tenant_id, description, post_date, status, source_module, source_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, entry.ID, entry.TenantID, entry.Description, entry.PostDate, entry.Status, entry.SourceModule, entry.SourceID, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		if isSourceConflict(err) {
			return ErrSourceConflict
		}
		return err
	}
	return nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, lines []JournalLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (id, journal_entry_id, account_code, debit, credit)
VALUES ($1,$2,$3,$4,$5)`, line.ID, line.JournalEntryID, line.AccountCode, toNumeric(line.Debit), toNumeric(line.Credit)); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) InsertLedgerEntries(ctx context.Context, entries []LedgerEntry) error {
	for _, e := range entries {
		if _, err := r.tx.Exec(ctx, `INSERT INTO ledger_entries (id, tenant_id, journal_entry_id, journal_line_id, account_code, debit, credit, post_date, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, e.ID, e.TenantID, e.JournalEntryID, e.JournalLineID, e.AccountCode, toNumeric(e.Debit), toNumeric(e.Credit), e.PostDate, e.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) UpdateJournalStatus(ctx context.Context, entryID uuid.UUID, from, to JournalStatus, postedAt time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$3, posted_at=$4, updated_at=$4 WHERE id=$1 AND status=$2`, entryID, from, to, postedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

const journalColumns = `id, tenant_id, description, post_date, status, source_module, source_id, posted_at, created_at, updated_at`

func scanJournal(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.TenantID, &e.Description, &e.PostDate, &e.Status, &e.SourceModule, &e.SourceID, &e.PostedAt, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// FindBySource returns the journal owning the idempotency key.
func (r *Repository) FindBySource(ctx context.Context, key SourceKey) (JournalEntry, error) {
	entry, err := scanJournal(r.pool.QueryRow(ctx, `SELECT `+journalColumns+`
FROM journal_entries WHERE tenant_id=$1 AND source_module=$2 AND source_id=$3`, key.TenantID, key.Module, key.SourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	lines, err := r.journalLines(ctx, entry.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

// GetJournal loads a journal entry together with its lines.
func (r *Repository) GetJournal(ctx context.Context, tenantID, entryID uuid.UUID) (JournalEntry, error) {
	entry, err := scanJournal(r.pool.QueryRow(ctx, `SELECT `+journalColumns+`
FROM journal_entries WHERE tenant_id=$1 AND id=$2`, tenantID, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	lines, err := r.journalLines(ctx, entry.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

func (r *Repository) journalLines(ctx context.Context, entryID uuid.UUID) ([]JournalLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, journal_entry_id, account_code, debit, credit
FROM journal_lines WHERE journal_entry_id=$1 ORDER BY debit DESC, account_code ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.JournalEntryID, &line.AccountCode, &line.Debit, &line.Credit); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ListJournalEntries lists journal headers newest first.
func (r *Repository) ListJournalEntries(ctx context.Context, filter ListFilter) ([]JournalEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+journalColumns+`
FROM journal_entries
WHERE tenant_id=$1 AND ($2 = '' OR source_module=$2)
ORDER BY created_at DESC LIMIT $3`, filter.TenantID, filter.SourceModule, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanJournal(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TrialBalance sums posted ledger entries per account code.
func (r *Repository) TrialBalance(ctx context.Context, tenantID uuid.UUID) ([]AccountBalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT account_code, COALESCE(SUM(debit),0)::text, COALESCE(SUM(credit),0)::text
FROM ledger_entries WHERE tenant_id=$1 GROUP BY account_code ORDER BY account_code`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountBalance
	for rows.Next() {
		var code, debit, credit string
		if err := rows.Scan(&code, &debit, &credit); err != nil {
			return nil, err
		}
		b := AccountBalance{AccountCode: code}
		if b.Debit, err = decimal.NewFromString(debit); err != nil {
			return nil, fmt.Errorf("accounting: parse debit for %s: %w", code, err)
		}
		if b.Credit, err = decimal.NewFromString(credit); err != nil {
			return nil, fmt.Errorf("accounting: parse credit for %s: %w", code, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func isSourceConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == sourceConstraint
	}
	return false
}

func toNumeric(v float64) any {
	return fmt.Sprintf("%.2f", v)
}
