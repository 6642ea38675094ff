package consent

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medledger/internal/domain/access"
	"github.com/ehr/medledger/internal/platform/apperror"
	"github.com/ehr/medledger/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/consents", h.GrantConsent)
	api.DELETE("/consents/:provider", h.RevokeConsent)
	api.PUT("/consents/:provider/permissions", h.UpdatePermissions)

	api.GET("/consents/:patient", h.ListByPatient)
	api.GET("/consents/:patient/:provider", h.GetConsent)
	api.GET("/consents/:patient/:provider/check", h.CheckConsent)
}

type grantRequest struct {
	Provider    string     `json:"provider"`
	Permissions Permission `json:"permissions"`
	Expiry      int64      `json:"expiry"`
}

func (h *Handler) GrantConsent(c echo.Context) error {
	var req grantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.GrantConsent(c.Request().Context(), access.Caller(c),
		access.Principal(req.Provider), req.Permissions, req.Expiry)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) RevokeConsent(c echo.Context) error {
	err := h.svc.RevokeConsent(c.Request().Context(), access.Caller(c), access.Principal(c.Param("provider")))
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type updateRequest struct {
	Permissions Permission `json:"permissions"`
}

func (h *Handler) UpdatePermissions(c echo.Context) error {
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.UpdatePermissions(c.Request().Context(), access.Caller(c),
		access.Principal(c.Param("provider")), req.Permissions)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetConsent(c echo.Context) error {
	rec, err := h.svc.GetConsent(c.Request().Context(),
		access.Principal(c.Param("patient")), access.Principal(c.Param("provider")))
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) CheckConsent(c echo.Context) error {
	perm := PermissionRead
	if q := c.QueryParam("permission"); q != "" {
		p, err := ParsePermission(q)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		perm = p
	}
	ok, err := h.svc.CheckConsent(c.Request().Context(),
		access.Principal(c.Param("patient")), access.Principal(c.Param("provider")), perm)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"permission": perm, "granted": ok})
}

func (h *Handler) ListByPatient(c echo.Context) error {
	items, err := h.svc.ListByPatient(c.Request().Context(), access.Principal(c.Param("patient")))
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c), c.Request().URL.Path))
}
