package main

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/org"
	"github.com/clinic/clinic/internal/domain/tenantctx"
)

// hierarchyReader is the part of org.Service the resolver depends on.
type hierarchyReader interface {
	Hierarchy(ctx context.Context, tenantID, companyID, branchID uuid.UUID) (*org.Hierarchy, error)
	GetCompany(ctx context.Context, id uuid.UUID) (*org.Company, error)
}

// hierarchyAdapter presents the org registry as a tenantctx.HierarchyReader.
type hierarchyAdapter struct {
	org hierarchyReader
}

func (a hierarchyAdapter) Hierarchy(ctx context.Context, tenantID, companyID, branchID uuid.UUID) (*tenantctx.Hierarchy, error) {
	h, err := a.org.Hierarchy(ctx, tenantID, companyID, branchID)
	if err != nil {
		return nil, err
	}
	out := &tenantctx.Hierarchy{Valid: h.Valid, Missing: h.Missing}
	if h.Tenant != nil {
		out.TenantName = h.Tenant.Name
	}
	if h.Company != nil {
		out.CompanyName = h.Company.Name
	}
	if h.Branch != nil {
		out.BranchName = h.Branch.Name
	}
	return out, nil
}

func (a hierarchyAdapter) CompanyTenant(ctx context.Context, companyID uuid.UUID) (uuid.UUID, error) {
	c, err := a.org.GetCompany(ctx, companyID)
	if errors.Is(err, org.ErrNotFound) {
		return uuid.Nil, &tenantctx.NotFoundError{Kind: "company", ID: companyID.String()}
	}
	if err != nil {
		return uuid.Nil, err
	}
	return c.TenantID, nil
}
