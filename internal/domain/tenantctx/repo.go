package tenantctx

import (
	"context"

	"github.com/google/uuid"
)

// OverrideStore persists tenant- and company-level override documents.
// A missing row is reported as ErrOverridesNotFound.
type OverrideStore interface {
	TenantOverrides(ctx context.Context, tenantID uuid.UUID) (*OverrideRecord, error)
	CompanyOverrides(ctx context.Context, companyID uuid.UUID) (*OverrideRecord, error)
	PutOverrides(ctx context.Context, rec *OverrideRecord) error
	DeleteOverrides(ctx context.Context, level Level, scopeID uuid.UUID) error
}

// HierarchyReader resolves a tenant/company/branch triple. CompanyTenant
// returns the tenant owning a company, or a *NotFoundError.
type HierarchyReader interface {
	Hierarchy(ctx context.Context, tenantID, companyID, branchID uuid.UUID) (*Hierarchy, error)
	CompanyTenant(ctx context.Context, companyID uuid.UUID) (uuid.UUID, error)
}
