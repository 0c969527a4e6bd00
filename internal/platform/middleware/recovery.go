package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/tenancy"
)

// Recovery turns a handler panic into a 500 and logs it with the request's
// tenant scope.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				var stack [4096]byte
				n := runtime.Stack(stack[:], false)

				rid, _ := c.Get("request_id").(string)
				ev := logger.Error().
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("path", c.Request().URL.Path)
				scopeFields(ev, tenancy.FromContext(c.Request().Context()))
				ev.Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(stack[:n])).
					Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}

func scopeFields(ev *zerolog.Event, s tenancy.Scope) {
	for _, f := range []struct {
		key string
		id  uuid.UUID
	}{
		{"tenant_id", s.TenantID},
		{"company_id", s.CompanyID},
		{"branch_id", s.BranchID},
	} {
		if f.id != uuid.Nil {
			ev.Str(f.key, f.id.String())
		}
	}
}
