package audit

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medledger/internal/domain/access"
	"github.com/ehr/medledger/internal/domain/consent"
	"github.com/ehr/medledger/internal/platform/apperror"
	"github.com/ehr/medledger/pkg/pagination"
)

// ConsentChecker is the consent query used to gate provider reads.
type ConsentChecker interface {
	CheckConsent(ctx context.Context, patient, provider access.Principal, perm consent.Permission) (bool, error)
}

type Handler struct {
	svc      *Service
	acl      access.Authorizer
	consents ConsentChecker
}

func NewHandler(svc *Service, acl access.Authorizer, consents ConsentChecker) *Handler {
	return &Handler{svc: svc, acl: acl, consents: consents}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/audit/log", h.LogAccess)
	api.GET("/audit/:patientId", h.GetAuditTrail)
	api.GET("/audit/:patientId/count", h.GetAuditTrailCount)
	api.GET("/audit/:patientId/export.csv", h.ExportCSV)
}

var errNoAuditAccess = echo.NewHTTPError(http.StatusForbidden, "caller may not read this audit trail")

// authorizeRead admits admins, the patient itself and providers holding
// Read consent from the patient.
func (h *Handler) authorizeRead(c echo.Context, patientID string) error {
	ctx := c.Request().Context()
	caller := access.Caller(c)
	if caller.IsNull() {
		return errNoAuditAccess
	}
	if string(caller) == patientID {
		return nil
	}
	role, err := h.acl.GetUserRole(ctx, caller)
	if err != nil {
		return apperror.HTTPError(err)
	}
	switch role {
	case access.RoleAdmin:
		return nil
	case access.RoleProvider:
		ok, err := h.consents.CheckConsent(ctx, access.Principal(patientID), caller, consent.PermissionRead)
		if err != nil {
			return apperror.HTTPError(err)
		}
		if ok {
			return nil
		}
	}
	return errNoAuditAccess
}

// filterParams reads start, end and action from the query string.
func filterParams(c echo.Context) (Filter, error) {
	var f Filter
	for _, p := range []struct {
		name string
		dst  **int64
	}{{"start", &f.Start}, {"end", &f.End}} {
		raw := c.QueryParam(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid "+p.name+" timestamp")
		}
		*p.dst = &v
	}
	if raw := c.QueryParam("action"); raw != "" {
		a, err := ParseActionType(raw)
		if err != nil || !a.Valid() {
			return f, echo.NewHTTPError(http.StatusBadRequest, MsgInvalidAction)
		}
		f.Action = a
	}
	return f, nil
}

type logRequest struct {
	PatientID   string `json:"patient_id"`
	DataHash    string `json:"data_hash"`
	ActionType  string `json:"action_type"`
	Description string `json:"description"`
}

func (h *Handler) LogAccess(c echo.Context) error {
	var req logRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	action, err := ParseActionType(req.ActionType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, MsgInvalidAction)
	}
	e, err := h.svc.LogAccess(c.Request().Context(), access.Caller(c), req.PatientID, req.DataHash, action, req.Description)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetAuditTrail(c echo.Context) error {
	patientID := c.Param("patientId")
	if err := h.authorizeRead(c, patientID); err != nil {
		return err
	}
	f, err := filterParams(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Search(c.Request().Context(), patientID, f)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c), c.Request().URL.Path))
}

func (h *Handler) GetAuditTrailCount(c echo.Context) error {
	patientID := c.Param("patientId")
	if err := h.authorizeRead(c, patientID); err != nil {
		return err
	}
	n, err := h.svc.GetAuditTrailCount(c.Request().Context(), patientID)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"patient_id": patientID, "count": n})
}

func (h *Handler) ExportCSV(c echo.Context) error {
	patientID := c.Param("patientId")
	if err := h.authorizeRead(c, patientID); err != nil {
		return err
	}
	f, err := filterParams(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := h.svc.ExportCSV(c.Request().Context(), patientID, f, &buf); err != nil {
		return apperror.HTTPError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="audit-`+patientID+`.csv"`)
	return c.Blob(http.StatusOK, "text/csv", buf.Bytes())
}
