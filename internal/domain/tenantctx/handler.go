package tenantctx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/tenancy"
)

const maxOverrideDocumentBytes = 1 << 20

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/tenant-context", h.GetTenantContext)
	api.GET("/tenant-context/navigation", h.GetNavigation)
	api.GET("/tenant-context/schemas/:entity", h.GetSchema)
	api.GET("/tenant-context/forms/:entity", h.GetForm)
	api.GET("/tenant-context/lists/:entity", h.GetList)

	admin := api.Group("/ui-config", auth.RequireRole("admin"))
	admin.GET("/baseline", h.GetBaseline)
	admin.POST("/validate", h.ValidateOverrides)
	admin.GET("/tenants/:tenantId/overrides", h.GetOverrides(LevelTenant, "tenantId"))
	admin.PUT("/tenants/:tenantId/overrides", h.PutOverrides(LevelTenant, "tenantId"))
	admin.DELETE("/tenants/:tenantId/overrides", h.DeleteOverrides(LevelTenant, "tenantId"))
	admin.GET("/companies/:companyId/overrides", h.GetOverrides(LevelCompany, "companyId"))
	admin.PUT("/companies/:companyId/overrides", h.PutOverrides(LevelCompany, "companyId"))
	admin.DELETE("/companies/:companyId/overrides", h.DeleteOverrides(LevelCompany, "companyId"))
}

// -- Tenant context --

func (h *Handler) GetTenantContext(c echo.Context) error {
	tc, err := h.resolve(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tc)
}

func (h *Handler) GetNavigation(c echo.Context) error {
	tc, err := h.resolve(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tc.Navigation)
}

func (h *Handler) GetSchema(c echo.Context) error {
	tc, err := h.resolve(c)
	if err != nil {
		return err
	}
	s, ok := tc.Schemas[c.Param("entity")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("schema %s not found", c.Param("entity")))
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) GetForm(c echo.Context) error {
	tc, err := h.resolve(c)
	if err != nil {
		return err
	}
	f, ok := tc.Forms[c.Param("entity")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("form %s not found", c.Param("entity")))
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) GetList(c echo.Context) error {
	tc, err := h.resolve(c)
	if err != nil {
		return err
	}
	l, ok := tc.Lists[c.Param("entity")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("list %s not found", c.Param("entity")))
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) resolve(c echo.Context) (*TenantContext, error) {
	ctx := c.Request().Context()
	scope := tenancy.FromContext(ctx)
	if !scope.Complete() {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "tenant, company and branch are required")
	}
	tc, err := h.svc.Resolve(ctx, Request{
		TenantID:  scope.TenantID,
		CompanyID: scope.CompanyID,
		BranchID:  scope.BranchID,
		UserID:    auth.UserIDFromContext(ctx),
		UserName:  auth.UserNameFromContext(ctx),
		Roles:     auth.RolesFromContext(ctx),
	})
	if err != nil {
		return nil, resolveError(err)
	}
	return tc, nil
}

// resolveError maps resolver errors to HTTP errors. Unexpected failures are
// already logged by the service and are reported without detail.
func resolveError(err error) error {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return echo.NewHTTPError(http.StatusNotFound, nf.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// -- Override administration --

func (h *Handler) GetBaseline(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Baseline())
}

// ValidateOverrides checks a document without storing it. The level is taken
// from the "level" query parameter and defaults to tenant. For a company
// document, "scopeId" names the company so the check includes its tenant's
// overrides.
func (h *Handler) ValidateOverrides(c echo.Context) error {
	level := Level(c.QueryParam("level"))
	if level == "" {
		level = LevelTenant
	}
	if level != LevelTenant && level != LevelCompany {
		return echo.NewHTTPError(http.StatusBadRequest, "level must be tenant or company")
	}
	scopeID := uuid.Nil
	if raw := c.QueryParam("scopeId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid scopeId")
		}
		scopeID = id
	}
	doc, err := readDocument(c)
	if err != nil {
		return err
	}
	err = h.svc.CheckOverrides(c.Request().Context(), level, scopeID, doc)
	var rej *RejectedError
	var nf *NotFoundError
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]interface{}{"valid": true})
	case errors.As(err, &rej):
		return rejected(c, rej)
	case errors.As(err, &nf):
		return echo.NewHTTPError(http.StatusNotFound, nf.Error())
	default:
		h.logger.Error().Err(err).Str("level", string(level)).Msg("validate overrides failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) GetOverrides(level Level, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param(param))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s id", level))
		}
		rec, err := h.svc.Overrides(c.Request().Context(), level, id)
		if errors.Is(err, ErrOverridesNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no overrides for %s %s", level, id))
		}
		if err != nil {
			h.logger.Error().Err(err).Str("level", string(level)).Str("scope_id", id.String()).Msg("load overrides failed")
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
		return c.JSON(http.StatusOK, rec)
	}
}

func (h *Handler) PutOverrides(level Level, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param(param))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s id", level))
		}
		doc, err := readDocument(c)
		if err != nil {
			return err
		}
		rec := &OverrideRecord{
			ScopeID:   id,
			Level:     level,
			Document:  doc,
			UpdatedBy: auth.UserIDFromContext(c.Request().Context()),
		}
		err = h.svc.PutOverrides(c.Request().Context(), rec)
		var rej *RejectedError
		var nf *NotFoundError
		switch {
		case err == nil:
			return c.JSON(http.StatusOK, rec)
		case errors.As(err, &rej):
			return rejected(c, rej)
		case errors.As(err, &nf):
			return echo.NewHTTPError(http.StatusNotFound, nf.Error())
		default:
			h.logger.Error().Err(err).Str("level", string(level)).Str("scope_id", id.String()).Msg("store overrides failed")
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
	}
}

func (h *Handler) DeleteOverrides(level Level, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param(param))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s id", level))
		}
		err = h.svc.DeleteOverrides(c.Request().Context(), level, id)
		if errors.Is(err, ErrOverridesNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no overrides for %s %s", level, id))
		}
		if err != nil {
			h.logger.Error().Err(err).Str("level", string(level)).Str("scope_id", id.String()).Msg("delete overrides failed")
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func readDocument(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxOverrideDocumentBytes+1))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	if len(body) > maxOverrideDocumentBytes {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "override document too large")
	}
	if !json.Valid(body) {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "override document is not valid JSON")
	}
	return body, nil
}

func rejected(c echo.Context, err error) error {
	var rej *RejectedError
	if !errors.As(err, &rej) {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
		"message": "override document rejected",
		"errors":  rej.Messages(),
	})
}
