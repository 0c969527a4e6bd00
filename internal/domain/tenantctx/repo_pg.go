package tenantctx

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type overrideRepoPG struct {
	pool *pgxpool.Pool
}

func NewOverrideRepo(pool *pgxpool.Pool) OverrideStore {
	return &overrideRepoPG{pool: pool}
}

func (r *overrideRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// overrideTable maps a level to its table and key column. Both are fixed
// identifiers, never user input.
func overrideTable(level Level) (table, key string, err error) {
	switch level {
	case LevelTenant:
		return "tenant_ui_overrides", "tenant_id", nil
	case LevelCompany:
		return "company_ui_overrides", "company_id", nil
	default:
		return "", "", fmt.Errorf("unsupported override level %q", level)
	}
}

func (r *overrideRepoPG) TenantOverrides(ctx context.Context, tenantID uuid.UUID) (*OverrideRecord, error) {
	return r.get(ctx, LevelTenant, tenantID)
}

func (r *overrideRepoPG) CompanyOverrides(ctx context.Context, companyID uuid.UUID) (*OverrideRecord, error) {
	return r.get(ctx, LevelCompany, companyID)
}

func (r *overrideRepoPG) get(ctx context.Context, level Level, scopeID uuid.UUID) (*OverrideRecord, error) {
	table, key, err := overrideTable(level)
	if err != nil {
		return nil, err
	}
	rec := &OverrideRecord{Level: level}
	var doc []byte
	var updatedBy *string
	err = r.conn(ctx).QueryRow(ctx,
		`SELECT `+key+`, document, version, updated_at, updated_by FROM `+table+` WHERE `+key+` = $1`,
		scopeID,
	).Scan(&rec.ScopeID, &doc, &rec.Version, &rec.UpdatedAt, &updatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOverridesNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s overrides: %w", level, err)
	}
	rec.Document = doc
	if updatedBy != nil {
		rec.UpdatedBy = *updatedBy
	}
	return rec, nil
}

// PutOverrides upserts the document and bumps its version. The stored version
// and timestamp are written back into rec.
func (r *overrideRepoPG) PutOverrides(ctx context.Context, rec *OverrideRecord) error {
	table, key, err := overrideTable(rec.Level)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO `+table+` (`+key+`, document, version, updated_at, updated_by)
		VALUES ($1, $2::jsonb, 1, NOW(), $3)
		ON CONFLICT (`+key+`) DO UPDATE SET
			document = EXCLUDED.document,
			version = `+table+`.version + 1,
			updated_at = NOW(),
			updated_by = EXCLUDED.updated_by
		RETURNING version, updated_at`,
		rec.ScopeID, string(rec.Document), nullIfEmpty(rec.UpdatedBy),
	).Scan(&rec.Version, &rec.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return &NotFoundError{Kind: string(rec.Level), ID: rec.ScopeID.String()}
	}
	if err != nil {
		return fmt.Errorf("upsert %s overrides: %w", rec.Level, err)
	}
	return nil
}

func (r *overrideRepoPG) DeleteOverrides(ctx context.Context, level Level, scopeID uuid.UUID) error {
	table, key, err := overrideTable(level)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM `+table+` WHERE `+key+` = $1`, scopeID)
	if err != nil {
		return fmt.Errorf("delete %s overrides: %w", level, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOverridesNotFound
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
