package access

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medledger/internal/platform/apperror"
	"github.com/ehr/medledger/internal/platform/auth"
	"github.com/ehr/medledger/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/roles", h.AssignRole)
	api.GET("/roles", h.ListAssignments)
	api.GET("/roles/:address", h.GetUserRole)
	api.DELETE("/roles/:address", h.RevokeRole)

	api.POST("/system/pause", h.Pause)
	api.POST("/system/unpause", h.Unpause)
	api.GET("/system/status", h.Status)
}

// Caller returns the authenticated principal of the request.
func Caller(c echo.Context) Principal {
	return Principal(auth.PrincipalFromContext(c.Request().Context()))
}

type assignRoleRequest struct {
	Address string `json:"address"`
	Role    string `json:"role"`
}

func (h *Handler) AssignRole(c echo.Context) error {
	var req assignRoleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	target := Principal(req.Address)
	if err := h.svc.AssignRole(c.Request().Context(), Caller(c), target, role); err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"address": target, "role": role})
}

func (h *Handler) RevokeRole(c echo.Context) error {
	target := Principal(c.Param("address"))
	if err := h.svc.RevokeRole(c.Request().Context(), Caller(c), target); err != nil {
		return apperror.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetUserRole(c echo.Context) error {
	target := Principal(c.Param("address"))
	role, err := h.svc.GetUserRole(c.Request().Context(), target)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"address": target, "role": role})
}

func (h *Handler) ListAssignments(c echo.Context) error {
	items, err := h.svc.ListAssignments(c.Request().Context())
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c), c.Request().URL.Path))
}

func (h *Handler) Pause(c echo.Context) error {
	if err := h.svc.Pause(c.Request().Context(), Caller(c)); err != nil {
		return apperror.HTTPError(err)
	}
	return h.Status(c)
}

func (h *Handler) Unpause(c echo.Context) error {
	if err := h.svc.Unpause(c.Request().Context(), Caller(c)); err != nil {
		return apperror.HTTPError(err)
	}
	return h.Status(c)
}

func (h *Handler) Status(c echo.Context) error {
	paused, err := h.svc.Paused(c.Request().Context())
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"paused": paused})
}
