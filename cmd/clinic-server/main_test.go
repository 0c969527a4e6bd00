package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/org"
	"github.com/clinic/clinic/internal/domain/tenantctx"
)

var (
	tenantID  = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	companyID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	branchID  = uuid.MustParse("33333333-3333-3333-3333-333333333333")
)

type fakeOrg struct {
	h       *org.Hierarchy
	company *org.Company
	err     error
}

func (f *fakeOrg) Hierarchy(_ context.Context, _, _, _ uuid.UUID) (*org.Hierarchy, error) {
	return f.h, f.err
}

func (f *fakeOrg) GetCompany(_ context.Context, id uuid.UUID) (*org.Company, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.company == nil || f.company.ID != id {
		return nil, org.ErrNotFound
	}
	return f.company, nil
}

type noOverrides struct{}

func (noOverrides) TenantOverrides(context.Context, uuid.UUID) (*tenantctx.OverrideRecord, error) {
	return nil, tenantctx.ErrOverridesNotFound
}

func (noOverrides) CompanyOverrides(context.Context, uuid.UUID) (*tenantctx.OverrideRecord, error) {
	return nil, tenantctx.ErrOverridesNotFound
}

func (noOverrides) PutOverrides(context.Context, *tenantctx.OverrideRecord) error { return nil }

func (noOverrides) DeleteOverrides(context.Context, tenantctx.Level, uuid.UUID) error { return nil }

func validHierarchy() *org.Hierarchy {
	return &org.Hierarchy{
		Valid:   true,
		Tenant:  &org.Tenant{ID: tenantID, Name: "Acme Health"},
		Company: &org.Company{ID: companyID, TenantID: tenantID, Name: "Acme Dubai"},
		Branch:  &org.Branch{ID: branchID, CompanyID: companyID, Name: "Marina"},
	}
}

func TestHierarchyAdapter(t *testing.T) {
	a := hierarchyAdapter{org: &fakeOrg{h: validHierarchy()}}
	got, err := a.Hierarchy(context.Background(), tenantID, companyID, branchID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &tenantctx.Hierarchy{Valid: true, TenantName: "Acme Health", CompanyName: "Acme Dubai", BranchName: "Marina"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("hierarchy mismatch (-want +got):\n%s", diff)
	}
}

func TestHierarchyAdapter_Missing(t *testing.T) {
	h := &org.Hierarchy{Valid: false, Missing: "branch", Tenant: &org.Tenant{Name: "Acme Health"}}
	got, err := hierarchyAdapter{org: &fakeOrg{h: h}}.Hierarchy(context.Background(), tenantID, companyID, branchID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Valid || got.Missing != "branch" || got.TenantName != "Acme Health" || got.CompanyName != "" {
		t.Errorf("unexpected hierarchy: %+v", got)
	}
}

func TestHierarchyAdapter_Error(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := hierarchyAdapter{org: &fakeOrg{err: boom}}.Hierarchy(context.Background(), tenantID, companyID, branchID)
	if !errors.Is(err, boom) {
		t.Errorf("expected store error, got %v", err)
	}
}

func TestHierarchyAdapter_CompanyTenant(t *testing.T) {
	a := hierarchyAdapter{org: &fakeOrg{company: &org.Company{ID: companyID, TenantID: tenantID, Name: "Acme Dubai"}}}
	got, err := a.CompanyTenant(context.Background(), companyID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != tenantID {
		t.Errorf("expected tenant %s, got %s", tenantID, got)
	}

	_, err = a.CompanyTenant(context.Background(), uuid.New())
	var nf *tenantctx.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "company" {
		t.Errorf("expected company NotFoundError, got %T %v", err, err)
	}

	boom := errors.New("connection refused")
	_, err = hierarchyAdapter{org: &fakeOrg{err: boom}}.CompanyTenant(context.Background(), companyID)
	if !errors.Is(err, boom) {
		t.Errorf("expected store error, got %v", err)
	}
}

func TestParseRoles(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"admin", []string{"admin"}},
		{" practitioner , receptionist,,", []string{"practitioner", "receptionist"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, parseRoles(tt.in)); diff != "" {
			t.Errorf("parseRoles(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestNewLogger_Level(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		l := newLogger(&config.Config{LogLevel: tt.level})
		if got := l.GetLevel(); got != tt.want {
			t.Errorf("LOG_LEVEL=%q: got %s, want %s", tt.level, got, tt.want)
		}
	}
}

func TestRootCommand_Tree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "status"},
		{"tenant", "create"},
		{"company", "create"},
		{"branch", "create"},
		{"uiconfig", "validate"},
		{"uiconfig", "resolve"},
		{"uiconfig", "flush-cache"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found", path)
		}
	}
}

func TestValidateConfig_EmbeddedBaseline(t *testing.T) {
	var out bytes.Buffer
	if err := validateConfig(&out, "", "", tenantctx.LevelTenant); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "is valid") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestValidateConfig_Overrides(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(good, []byte(`{"settings":{"currency":"AED"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte(`{"settings":{"currncy":"AED"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := validateConfig(&out, "", good, tenantctx.LevelCompany); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out.Reset()
	err := validateConfig(&out, "", bad, tenantctx.LevelTenant)
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(out.String(), "  - ") {
		t.Errorf("expected problems to be listed, got %q", out.String())
	}

	if err := validateConfig(&out, "", good, tenantctx.Level("branch")); err == nil {
		t.Error("expected invalid level to be rejected")
	}
}

func TestValidateConfig_MissingBaselineFile(t *testing.T) {
	var out bytes.Buffer
	if err := validateConfig(&out, filepath.Join(t.TempDir(), "nope.yaml"), "", tenantctx.LevelTenant); err == nil {
		t.Error("expected error for missing baseline file")
	}
}

func newTestRouter(t *testing.T, h *org.Hierarchy) http.Handler {
	t.Helper()
	baseline, err := tenantctx.DefaultBaseline()
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	svc := tenantctx.NewService(baseline, noOverrides{}, hierarchyAdapter{org: &fakeOrg{h: h}}, zerolog.Nop())
	reg := prometheus.NewRegistry()
	svc.SetMetrics(tenantctx.NewMetrics(reg))
	cfg := &config.Config{
		Env:         "development",
		AuthMode:    config.AuthModeDevelopment,
		CORSOrigins: []string{"*"},
		BodyLimit:   "1M",
	}
	return newRouter(app{cfg: cfg, logger: zerolog.Nop(), tenantCtx: svc, registry: reg})
}

func TestRouter_Health(t *testing.T) {
	e := newTestRouter(t, validHierarchy())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["baseline"] == "" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestRouter_TenantContext(t *testing.T) {
	e := newTestRouter(t, validHierarchy())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenant-context", nil)
	req.Header.Set("X-Tenant-ID", tenantID.String())
	req.Header.Set("X-Company-ID", companyID.String())
	req.Header.Set("X-Branch-ID", branchID.String())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var tc tenantctx.TenantContext
	if err := json.Unmarshal(rec.Body.Bytes(), &tc); err != nil {
		t.Fatal(err)
	}
	if tc.BranchName != "Marina" || tc.UserID != "dev-user" {
		t.Errorf("unexpected context: branch=%q user=%q", tc.BranchName, tc.UserID)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestRouter_TenantContext_IncompleteScope(t *testing.T) {
	e := newTestRouter(t, validHierarchy())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenant-context", nil)
	req.Header.Set("X-Tenant-ID", tenantID.String())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestRouter_TenantContext_UnknownBranch(t *testing.T) {
	e := newTestRouter(t, &org.Hierarchy{Valid: false, Missing: "branch"})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenant-context", nil)
	req.Header.Set("X-Tenant-ID", tenantID.String())
	req.Header.Set("X-Company-ID", companyID.String())
	req.Header.Set("X-Branch-ID", branchID.String())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRouter_Metrics(t *testing.T) {
	e := newTestRouter(t, validHierarchy())
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Error("expected http_requests_total in metrics output")
	}
}

type fakeCache struct{ err error }

func (f fakeCache) Ping(context.Context) error { return f.err }

func TestCacheHealthHandler(t *testing.T) {
	baseline, err := tenantctx.DefaultBaseline()
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	for _, tt := range []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{errors.New("dial tcp: refused"), http.StatusServiceUnavailable},
	} {
		e := newRouter(app{
			cfg:       &config.Config{AuthMode: config.AuthModeDevelopment, BodyLimit: "1M"},
			logger:    zerolog.Nop(),
			cache:     fakeCache{err: tt.err},
			tenantCtx: tenantctx.NewService(baseline, noOverrides{}, nil, zerolog.Nop()),
		})
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/cache", nil))
		if rec.Code != tt.want {
			t.Errorf("ping err=%v: expected %d, got %d", tt.err, tt.want, rec.Code)
		}
	}
}
