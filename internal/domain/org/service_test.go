package org

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repositories --

type mockTenantRepo struct {
	tenants map[uuid.UUID]*Tenant
	err     error
}

func newMockTenantRepo() *mockTenantRepo {
	return &mockTenantRepo{tenants: make(map[uuid.UUID]*Tenant)}
}

func (m *mockTenantRepo) Create(_ context.Context, t *Tenant) error {
	for _, existing := range m.tenants {
		if existing.Code == t.Code {
			return fmt.Errorf("%w: tenant_code_key", ErrDuplicate)
		}
	}
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	m.tenants[t.ID] = t
	return nil
}

func (m *mockTenantRepo) GetByID(_ context.Context, id uuid.UUID) (*Tenant, error) {
	if m.err != nil {
		return nil, m.err
	}
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (m *mockTenantRepo) List(_ context.Context, limit, offset int) ([]*Tenant, int, error) {
	var result []*Tenant
	for _, t := range m.tenants {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return page(result, limit, offset), len(result), nil
}

type mockCompanyRepo struct {
	companies map[uuid.UUID]*Company
	failNext  bool
}

func newMockCompanyRepo() *mockCompanyRepo {
	return &mockCompanyRepo{companies: make(map[uuid.UUID]*Company)}
}

func (m *mockCompanyRepo) Create(_ context.Context, c *Company) error {
	if m.failNext {
		m.failNext = false
		return fmt.Errorf("connection reset")
	}
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.companies[c.ID] = c
	return nil
}

func (m *mockCompanyRepo) GetByID(_ context.Context, id uuid.UUID) (*Company, error) {
	c, ok := m.companies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *mockCompanyRepo) ListByTenant(_ context.Context, tenantID uuid.UUID, limit, offset int) ([]*Company, int, error) {
	var result []*Company
	for _, c := range m.companies {
		if c.TenantID == tenantID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return page(result, limit, offset), len(result), nil
}

type mockBranchRepo struct {
	branches map[uuid.UUID]*Branch
}

func newMockBranchRepo() *mockBranchRepo {
	return &mockBranchRepo{branches: make(map[uuid.UUID]*Branch)}
}

func (m *mockBranchRepo) Create(_ context.Context, b *Branch) error {
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	m.branches[b.ID] = b
	return nil
}

func (m *mockBranchRepo) GetByID(_ context.Context, id uuid.UUID) (*Branch, error) {
	b, ok := m.branches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (m *mockBranchRepo) ListByCompany(_ context.Context, companyID uuid.UUID, limit, offset int) ([]*Branch, int, error) {
	var result []*Branch
	for _, b := range m.branches {
		if b.CompanyID == companyID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return page(result, limit, offset), len(result), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

type testRepos struct {
	tenants   *mockTenantRepo
	companies *mockCompanyRepo
	branches  *mockBranchRepo
}

func newTestService() (*Service, *testRepos) {
	r := &testRepos{
		tenants:   newMockTenantRepo(),
		companies: newMockCompanyRepo(),
		branches:  newMockBranchRepo(),
	}
	return NewService(r.tenants, r.companies, r.branches), r
}

// seed creates an active tenant, company and branch.
func seed(t *testing.T, svc *Service) (*Tenant, *Company, *Branch) {
	t.Helper()
	ctx := context.Background()
	tn := &Tenant{Name: "Sunrise Clinics", Code: "sunrise"}
	if err := svc.CreateTenant(ctx, tn); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	co := &Company{TenantID: tn.ID, Name: "Sunrise Dubai LLC"}
	if err := svc.CreateCompany(ctx, co); err != nil {
		t.Fatalf("create company: %v", err)
	}
	br := &Branch{CompanyID: co.ID, Name: "Jumeirah"}
	if err := svc.CreateBranch(ctx, br); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	return tn, co, br
}

// -- Tenant Tests --

func TestService_CreateTenant(t *testing.T) {
	svc, _ := newTestService()
	tn := &Tenant{Name: "  Sunrise Clinics ", Code: " Sunrise "}
	if err := svc.CreateTenant(context.Background(), tn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tn.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if tn.Name != "Sunrise Clinics" {
		t.Errorf("expected trimmed name, got %q", tn.Name)
	}
	if tn.Code != "sunrise" {
		t.Errorf("expected normalized code, got %q", tn.Code)
	}
	if !tn.Active {
		t.Error("expected new tenant to be active")
	}
}

func TestService_CreateTenant_Validation(t *testing.T) {
	tests := []struct {
		name   string
		tenant Tenant
	}{
		{"missing name", Tenant{Code: "abc"}},
		{"missing code", Tenant{Name: "Abc"}},
		{"short code", Tenant{Name: "Abc", Code: "a"}},
		{"bad characters", Tenant{Name: "Abc", Code: "abc_def"}},
		{"leading dash", Tenant{Name: "Abc", Code: "-abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService()
			tn := tt.tenant
			err := svc.CreateTenant(context.Background(), &tn)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestService_CreateTenant_DuplicateCode(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if err := svc.CreateTenant(ctx, &Tenant{Name: "One", Code: "dup"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := svc.CreateTenant(ctx, &Tenant{Name: "Two", Code: "dup"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestService_ListTenants(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	for _, code := range []string{"aa", "bb", "cc"} {
		if err := svc.CreateTenant(ctx, &Tenant{Name: code, Code: code}); err != nil {
			t.Fatalf("create tenant: %v", err)
		}
	}
	items, total, err := svc.ListTenants(ctx, 2, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 {
		t.Errorf("expected total 3, got %d", total)
	}
	if len(items) != 2 || items[0].Code != "bb" {
		t.Errorf("unexpected page: %+v", items)
	}
}

// -- Company / Branch Tests --

func TestService_CreateCompany_UnknownTenant(t *testing.T) {
	svc, _ := newTestService()
	err := svc.CreateCompany(context.Background(), &Company{TenantID: uuid.New(), Name: "Orphan"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_CreateCompany_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if err := svc.CreateCompany(ctx, &Company{TenantID: uuid.New()}); !errors.Is(err, ErrInvalid) {
		t.Errorf("missing name: expected ErrInvalid, got %v", err)
	}
	if err := svc.CreateCompany(ctx, &Company{Name: "X"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("missing tenant: expected ErrInvalid, got %v", err)
	}
}

func TestService_CreateBranch_UnknownCompany(t *testing.T) {
	svc, _ := newTestService()
	err := svc.CreateBranch(context.Background(), &Branch{CompanyID: uuid.New(), Name: "Orphan"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_ListCompaniesAndBranches(t *testing.T) {
	svc, _ := newTestService()
	tn, co, br := seed(t, svc)
	ctx := context.Background()

	companies, total, err := svc.ListCompanies(ctx, tn.ID, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || companies[0].ID != co.ID {
		t.Errorf("unexpected companies: %+v", companies)
	}

	branches, total, err := svc.ListBranches(ctx, co.ID, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || branches[0].ID != br.ID {
		t.Errorf("unexpected branches: %+v", branches)
	}
}

// -- Onboard Tests --

func TestService_Onboard(t *testing.T) {
	svc, _ := newTestService()
	var txCalls int
	svc.SetTxRunner(func(ctx context.Context, fn func(ctx context.Context) error) error {
		txCalls++
		return fn(ctx)
	})

	tn := &Tenant{Name: "Oasis", Code: "oasis"}
	co := &Company{Name: "Oasis Health"}
	br := &Branch{Name: "Main"}
	if err := svc.Onboard(context.Background(), tn, co, br); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txCalls != 1 {
		t.Errorf("expected one transaction, got %d", txCalls)
	}
	if co.TenantID != tn.ID || br.CompanyID != co.ID {
		t.Error("expected rows to be linked")
	}

	h, err := svc.Hierarchy(context.Background(), tn.ID, co.ID, br.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.Valid {
		t.Errorf("expected onboarded hierarchy to be valid, missing %q", h.Missing)
	}
}

func TestService_Onboard_PropagatesFailure(t *testing.T) {
	svc, repos := newTestService()
	repos.companies.failNext = true
	var rolledBack bool
	svc.SetTxRunner(func(ctx context.Context, fn func(ctx context.Context) error) error {
		err := fn(ctx)
		rolledBack = err != nil
		return err
	})

	err := svc.Onboard(context.Background(), &Tenant{Name: "Oasis", Code: "oasis"}, &Company{Name: "Oasis Health"}, &Branch{Name: "Main"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !rolledBack {
		t.Error("expected the transaction runner to observe the failure")
	}
}

// -- Hierarchy Tests --

func TestService_Hierarchy(t *testing.T) {
	svc, repos := newTestService()
	tn, co, br := seed(t, svc)
	ctx := context.Background()

	otherTenant := &Tenant{Name: "Other", Code: "other"}
	if err := svc.CreateTenant(ctx, otherTenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	otherCompany := &Company{TenantID: otherTenant.ID, Name: "Other Co"}
	if err := svc.CreateCompany(ctx, otherCompany); err != nil {
		t.Fatalf("create company: %v", err)
	}
	otherBranch := &Branch{CompanyID: otherCompany.ID, Name: "Other Branch"}
	if err := svc.CreateBranch(ctx, otherBranch); err != nil {
		t.Fatalf("create branch: %v", err)
	}

	tests := []struct {
		name              string
		tenant, comp, brc uuid.UUID
		wantValid         bool
		wantMissing       string
	}{
		{"valid", tn.ID, co.ID, br.ID, true, ""},
		{"unknown tenant", uuid.New(), co.ID, br.ID, false, "tenant"},
		{"unknown company", tn.ID, uuid.New(), br.ID, false, "company"},
		{"unknown branch", tn.ID, co.ID, uuid.New(), false, "branch"},
		{"company of another tenant", tn.ID, otherCompany.ID, otherBranch.ID, false, "company"},
		{"branch of another company", tn.ID, co.ID, otherBranch.ID, false, "branch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := svc.Hierarchy(ctx, tt.tenant, tt.comp, tt.brc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h.Valid != tt.wantValid || h.Missing != tt.wantMissing {
				t.Errorf("expected valid=%v missing=%q, got valid=%v missing=%q",
					tt.wantValid, tt.wantMissing, h.Valid, h.Missing)
			}
		})
	}

	t.Run("inactive tenant", func(t *testing.T) {
		repos.tenants.tenants[tn.ID].Active = false
		defer func() { repos.tenants.tenants[tn.ID].Active = true }()
		h, err := svc.Hierarchy(ctx, tn.ID, co.ID, br.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if h.Valid || h.Missing != "tenant" {
			t.Errorf("expected inactive tenant to be reported missing, got %+v", h)
		}
	})

	t.Run("inactive branch", func(t *testing.T) {
		repos.branches.branches[br.ID].Active = false
		defer func() { repos.branches.branches[br.ID].Active = true }()
		h, _ := svc.Hierarchy(ctx, tn.ID, co.ID, br.ID)
		if h.Valid || h.Missing != "branch" {
			t.Errorf("expected inactive branch to be reported missing, got %+v", h)
		}
	})
}

func TestService_Hierarchy_StoreError(t *testing.T) {
	svc, repos := newTestService()
	repos.tenants.err = fmt.Errorf("connection refused")
	_, err := svc.Hierarchy(context.Background(), uuid.New(), uuid.New(), uuid.New())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("store failure must not look like a missing row")
	}
}
