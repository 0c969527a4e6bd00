package org

import (
	"context"

	"github.com/google/uuid"
)

type TenantRepository interface {
	Create(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	List(ctx context.Context, limit, offset int) ([]*Tenant, int, error)
}

type CompanyRepository interface {
	Create(ctx context.Context, c *Company) error
	GetByID(ctx context.Context, id uuid.UUID) (*Company, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*Company, int, error)
}

type BranchRepository interface {
	Create(ctx context.Context, b *Branch) error
	GetByID(ctx context.Context, id uuid.UUID) (*Branch, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]*Branch, int, error)
}
