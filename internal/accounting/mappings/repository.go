package mappings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/glsync/internal/platform/db"
)

// Repository reads and seeds tenant account mappings.
type Repository interface {
	Get(ctx context.Context, tenantID uuid.UUID, module, subtype string) (AccountMapping, error)
	ListAll(ctx context.Context) ([]AccountMapping, error)
	ListTenants(ctx context.Context) ([]uuid.UUID, error)
	Seed(ctx context.Context, mappings []AccountMapping) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const mappingColumns = `tenant_id, module, subtype, debit_account_code, credit_account_code, created_at, updated_at`

func scanMapping(row pgx.Row) (AccountMapping, error) {
	var m AccountMapping
	err := row.Scan(&m.TenantID, &m.Module, &m.Subtype, &m.DebitAccountCode, &m.CreditAccountCode, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// Get resolves an account mapping for the specified key.
func (r *repository) Get(ctx context.Context, tenantID uuid.UUID, module, subtype string) (AccountMapping, error) {
	if tenantID == uuid.Nil || module == "" || subtype == "" {
		return AccountMapping{}, errors.New("accounting: tenant, module and subtype required")
	}
	mapping, err := scanMapping(r.db.QueryRow(ctx, `SELECT `+mappingColumns+`
FROM account_mappings WHERE tenant_id=$1 AND module=$2 AND subtype=$3`, tenantID, strings.ToUpper(module), strings.ToUpper(subtype)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, ErrMappingNotFound
		}
		return AccountMapping{}, err
	}
	return mapping, nil
}

// ListAll loads every configured mapping.
func (r *repository) ListAll(ctx context.Context) ([]AccountMapping, error) {
	rows, err := r.db.Query(ctx, `SELECT `+mappingColumns+` FROM account_mappings ORDER BY tenant_id, module, subtype`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListTenants returns tenants that have at least one mapping configured.
func (r *repository) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT tenant_id FROM account_mappings ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Seed upserts the supplied mappings in one transaction.
func (r *repository) Seed(ctx context.Context, mappings []AccountMapping) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, m := range mappings {
			if _, err := tx.Exec(ctx, `INSERT INTO account_mappings (tenant_id, module, subtype, debit_account_code, credit_account_code, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
ON CONFLICT (tenant_id, module, subtype) DO UPDATE
SET debit_account_code=EXCLUDED.debit_account_code, credit_account_code=EXCLUDED.credit_account_code, updated_at=NOW()`,
				m.TenantID, strings.ToUpper(m.Module), strings.ToUpper(m.Subtype), m.DebitAccountCode, m.CreditAccountCode); err != nil {
				return fmt.Errorf("seed mapping %s/%s: %w", m.Module, m.Subtype, err)
			}
		}
		return nil
	})
}
