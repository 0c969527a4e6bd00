package org

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

// queryable abstracts pgxpool.Pool and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// mapWriteErr turns constraint violations into package errors.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("parent %w", ErrNotFound)
		}
	}
	return err
}

func mapReadErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// -- Tenant Repository --

type tenantRepoPG struct {
	pool *pgxpool.Pool
}

func NewTenantRepo(pool *pgxpool.Pool) TenantRepository {
	return &tenantRepoPG{pool: pool}
}

const tenantColumns = `id, code, name, active, created_at, updated_at`

func (r *tenantRepoPG) Create(ctx context.Context, t *Tenant) error {
	t.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO tenant (id, code, name, active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		t.ID, t.Code, t.Name, t.Active,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	return mapWriteErr(err)
}

func (r *tenantRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	var t Tenant
	err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenant WHERE id = $1`, id).
		Scan(&t.ID, &t.Code, &t.Name, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return &t, nil
}

func (r *tenantRepoPG) List(ctx context.Context, limit, offset int) ([]*Tenant, int, error) {
	q := connFor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM tenant`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+tenantColumns+` FROM tenant ORDER BY name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &t)
	}
	return items, total, rows.Err()
}

// -- Company Repository --

type companyRepoPG struct {
	pool *pgxpool.Pool
}

func NewCompanyRepo(pool *pgxpool.Pool) CompanyRepository {
	return &companyRepoPG{pool: pool}
}

const companyColumns = `id, tenant_id, name, active, created_at, updated_at`

func (r *companyRepoPG) Create(ctx context.Context, c *Company) error {
	c.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO company (id, tenant_id, name, active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		c.ID, c.TenantID, c.Name, c.Active,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapWriteErr(err)
}

func (r *companyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Company, error) {
	var c Company
	err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+companyColumns+` FROM company WHERE id = $1`, id).
		Scan(&c.ID, &c.TenantID, &c.Name, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return &c, nil
}

func (r *companyRepoPG) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*Company, int, error) {
	q := connFor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM company WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+companyColumns+` FROM company WHERE tenant_id = $1 ORDER BY name, id LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &c)
	}
	return items, total, rows.Err()
}

// -- Branch Repository --

type branchRepoPG struct {
	pool *pgxpool.Pool
}

func NewBranchRepo(pool *pgxpool.Pool) BranchRepository {
	return &branchRepoPG{pool: pool}
}

const branchColumns = `id, company_id, name, active, created_at, updated_at`

func (r *branchRepoPG) Create(ctx context.Context, b *Branch) error {
	b.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO branch (id, company_id, name, active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		b.ID, b.CompanyID, b.Name, b.Active,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	return mapWriteErr(err)
}

func (r *branchRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Branch, error) {
	var b Branch
	err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+branchColumns+` FROM branch WHERE id = $1`, id).
		Scan(&b.ID, &b.CompanyID, &b.Name, &b.Active, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return &b, nil
}

func (r *branchRepoPG) ListByCompany(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]*Branch, int, error) {
	q := connFor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM branch WHERE company_id = $1`, companyID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+branchColumns+` FROM branch WHERE company_id = $1 ORDER BY name, id LIMIT $2 OFFSET $3`,
		companyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.CompanyID, &b.Name, &b.Active, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &b)
	}
	return items, total, rows.Err()
}
