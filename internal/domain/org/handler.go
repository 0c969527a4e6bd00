package org

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/tenancy"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – any clinic staff role
	readGroup := api.Group("", auth.RequireRole("admin", "practitioner", "receptionist", "accountant"))
	readGroup.GET("/companies", h.ListCompanies)
	readGroup.GET("/companies/:id", h.GetCompany)
	readGroup.GET("/branches", h.ListBranches)
	readGroup.GET("/branches/:id", h.GetBranch)

	// Tenant administration and writes – admin only
	writeGroup := api.Group("", auth.RequireRole("admin"))
	writeGroup.GET("/tenants", h.ListTenants)
	writeGroup.GET("/tenants/:id", h.GetTenant)
	writeGroup.POST("/tenants", h.CreateTenant)
	writeGroup.POST("/companies", h.CreateCompany)
	writeGroup.POST("/branches", h.CreateBranch)
}

// writeError maps service errors onto HTTP status codes.
func writeError(err error) error {
	switch {
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// parentID reads a parent id from the query string, falling back to the
// request scope when the parameter is absent.
func parentID(c echo.Context, param string, fallback uuid.UUID) (uuid.UUID, error) {
	raw := c.QueryParam(param)
	if raw == "" {
		if fallback == uuid.Nil {
			return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, param+" is required")
		}
		return fallback, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
	}
	return id, nil
}

func isAdmin(c echo.Context) bool {
	return auth.HasAnyRole(auth.RolesFromContext(c.Request().Context()), "admin")
}

// -- Tenant Handlers --

func (h *Handler) CreateTenant(c echo.Context) error {
	var t Tenant
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateTenant(c.Request().Context(), &t); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTenant(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTenant(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "tenant not found")
		}
		return writeError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTenants(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListTenants(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

// -- Company Handlers --

func (h *Handler) CreateCompany(c echo.Context) error {
	var co Company
	if err := c.Bind(&co); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateCompany(c.Request().Context(), &co); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, co)
}

func (h *Handler) GetCompany(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	co, err := h.svc.GetCompany(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "company not found")
		}
		return writeError(err)
	}
	return c.JSON(http.StatusOK, co)
}

func (h *Handler) ListCompanies(c echo.Context) error {
	scope := tenancy.FromContext(c.Request().Context())
	tenantID, err := parentID(c, "tenant_id", scope.TenantID)
	if err != nil {
		return err
	}
	if !isAdmin(c) && tenantID != scope.TenantID {
		return echo.NewHTTPError(http.StatusForbidden, "tenant outside request scope")
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListCompanies(c.Request().Context(), tenantID, p.Limit, p.Offset)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

// -- Branch Handlers --

func (h *Handler) CreateBranch(c echo.Context) error {
	var b Branch
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateBranch(c.Request().Context(), &b); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBranch(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBranch(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "branch not found")
		}
		return writeError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBranches(c echo.Context) error {
	scope := tenancy.FromContext(c.Request().Context())
	companyID, err := parentID(c, "company_id", scope.CompanyID)
	if err != nil {
		return err
	}
	if !isAdmin(c) && companyID != scope.CompanyID {
		co, err := h.svc.GetCompany(c.Request().Context(), companyID)
		if err != nil || co.TenantID != scope.TenantID {
			return echo.NewHTTPError(http.StatusForbidden, "company outside request scope")
		}
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListBranches(c.Request().Context(), companyID, p.Limit, p.Offset)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}
