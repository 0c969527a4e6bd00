package org

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalid marks input rejected by validation.
var ErrInvalid = errors.New("invalid")

var tenantCodePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,31}$`)

// TxRunner runs fn inside a single database transaction.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

type Service struct {
	tenants   TenantRepository
	companies CompanyRepository
	branches  BranchRepository
	inTx      TxRunner
}

func NewService(tenants TenantRepository, companies CompanyRepository, branches BranchRepository) *Service {
	return &Service{
		tenants:   tenants,
		companies: companies,
		branches:  branches,
		inTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		},
	}
}

// SetTxRunner makes Onboard atomic.
func (s *Service) SetTxRunner(run TxRunner) {
	if run != nil {
		s.inTx = run
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// -- Tenant --

func (s *Service) CreateTenant(ctx context.Context, t *Tenant) error {
	t.Name = strings.TrimSpace(t.Name)
	t.Code = strings.ToLower(strings.TrimSpace(t.Code))
	if t.Name == "" {
		return invalid("tenant name is required")
	}
	if !tenantCodePattern.MatchString(t.Code) {
		return invalid("tenant code must be 2-32 lowercase letters, digits or dashes")
	}
	t.Active = true
	return s.tenants.Create(ctx, t)
}

func (s *Service) GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return s.tenants.GetByID(ctx, id)
}

func (s *Service) ListTenants(ctx context.Context, limit, offset int) ([]*Tenant, int, error) {
	return s.tenants.List(ctx, limit, offset)
}

// -- Company --

func (s *Service) CreateCompany(ctx context.Context, c *Company) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return invalid("company name is required")
	}
	if c.TenantID == uuid.Nil {
		return invalid("tenant_id is required")
	}
	if _, err := s.tenants.GetByID(ctx, c.TenantID); err != nil {
		return fmt.Errorf("tenant %s: %w", c.TenantID, err)
	}
	c.Active = true
	return s.companies.Create(ctx, c)
}

func (s *Service) GetCompany(ctx context.Context, id uuid.UUID) (*Company, error) {
	return s.companies.GetByID(ctx, id)
}

func (s *Service) ListCompanies(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*Company, int, error) {
	return s.companies.ListByTenant(ctx, tenantID, limit, offset)
}

// -- Branch --

func (s *Service) CreateBranch(ctx context.Context, b *Branch) error {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return invalid("branch name is required")
	}
	if b.CompanyID == uuid.Nil {
		return invalid("company_id is required")
	}
	if _, err := s.companies.GetByID(ctx, b.CompanyID); err != nil {
		return fmt.Errorf("company %s: %w", b.CompanyID, err)
	}
	b.Active = true
	return s.branches.Create(ctx, b)
}

func (s *Service) GetBranch(ctx context.Context, id uuid.UUID) (*Branch, error) {
	return s.branches.GetByID(ctx, id)
}

func (s *Service) ListBranches(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]*Branch, int, error) {
	return s.branches.ListByCompany(ctx, companyID, limit, offset)
}

// Onboard creates a tenant with its first company and branch. Either all
// three rows are written or none are.
func (s *Service) Onboard(ctx context.Context, t *Tenant, c *Company, b *Branch) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		if err := s.CreateTenant(ctx, t); err != nil {
			return err
		}
		c.TenantID = t.ID
		if err := s.CreateCompany(ctx, c); err != nil {
			return err
		}
		b.CompanyID = c.ID
		return s.CreateBranch(ctx, b)
	})
}

// Hierarchy checks that the branch belongs to the company, the company to the
// tenant, and that all three are active. Lookup failures other than a missing
// row are returned as errors.
func (s *Service) Hierarchy(ctx context.Context, tenantID, companyID, branchID uuid.UUID) (*Hierarchy, error) {
	h := &Hierarchy{}

	t, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if t == nil || !t.Active {
		h.Missing = "tenant"
		return h, nil
	}
	h.Tenant = t

	c, err := s.companies.GetByID(ctx, companyID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load company: %w", err)
	}
	if c == nil || !c.Active || c.TenantID != tenantID {
		h.Missing = "company"
		return h, nil
	}
	h.Company = c

	b, err := s.branches.GetByID(ctx, branchID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load branch: %w", err)
	}
	if b == nil || !b.Active || b.CompanyID != companyID {
		h.Missing = "branch"
		return h, nil
	}
	h.Branch = b
	h.Valid = true
	return h, nil
}
