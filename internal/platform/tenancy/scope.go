package tenancy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
)

type contextKey struct{}

// Scope is the tenant, company and branch a request operates in. Any id may
// be uuid.Nil when the request did not name that level.
type Scope struct {
	TenantID  uuid.UUID
	CompanyID uuid.UUID
	BranchID  uuid.UUID
}

// Complete reports whether every level of the scope is set.
func (s Scope) Complete() bool {
	return s.TenantID != uuid.Nil && s.CompanyID != uuid.Nil && s.BranchID != uuid.Nil
}

type source struct {
	level    string
	claimKey string
	header   string
	query    string
}

var sources = []source{
	{"tenant", auth.TenantClaimKey, "X-Tenant-ID", "tenant_id"},
	{"company", auth.CompanyClaimKey, "X-Company-ID", "company_id"},
	{"branch", auth.BranchClaimKey, "X-Branch-ID", "branch_id"},
}

// Middleware resolves the request scope. Each level is read from the token
// claims, then the X-*-ID header, then the query string; the tenant falls back
// to defaultTenant. Malformed ids are rejected with 400.
func Middleware(defaultTenant uuid.UUID) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if auth.IsPublicPath(c.Path()) {
				return next(c)
			}

			ids := make([]uuid.UUID, len(sources))
			for i, src := range sources {
				raw := extract(c, src)
				if raw == "" {
					continue
				}
				id, err := uuid.Parse(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s identifier", src.level))
				}
				ids[i] = id
			}
			scope := Scope{TenantID: ids[0], CompanyID: ids[1], BranchID: ids[2]}
			if scope.TenantID == uuid.Nil {
				scope.TenantID = defaultTenant
			}

			c.SetRequest(c.Request().WithContext(WithScope(c.Request().Context(), scope)))
			c.Set("tenant_id", scope.TenantID.String())
			return next(c)
		}
	}
}

func extract(c echo.Context, src source) string {
	if v, ok := c.Get(src.claimKey).(string); ok && v != "" {
		return v
	}
	if v := c.Request().Header.Get(src.header); v != "" {
		return v
	}
	return c.QueryParam(src.query)
}

func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the scope stored by Middleware, or the zero Scope.
func FromContext(ctx context.Context) Scope {
	s, _ := ctx.Value(contextKey{}).(Scope)
	return s
}
