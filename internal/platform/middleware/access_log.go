package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/medledger/internal/platform/auth"
)

// AccessRecord describes one successful read of patient-scoped data.
type AccessRecord struct {
	Principal string
	PatientID string
	Method    string
	Path      string
	Route     string
	RequestID string
	RemoteIP  string
	Status    int
	Timestamp time.Time
}

// AccessRecorder persists access records, typically into the audit trail.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, rec AccessRecord) error
}

type AccessRecorderFunc func(ctx context.Context, rec AccessRecord) error

func (f AccessRecorderFunc) RecordAccess(ctx context.Context, rec AccessRecord) error {
	return f(ctx, rec)
}

// AccessLog emits a structured "patient_data_access" line for every request
// under /api/v1/ that names a patient, and hands successful reads to the
// recorder when one is given.
func AccessLog(logger zerolog.Logger, recorder AccessRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			patientID := patientParam(c)
			if patientID == "" {
				return err
			}

			rec := AccessRecord{
				Principal: auth.PrincipalFromContext(req.Context()),
				PatientID: patientID,
				Method:    req.Method,
				Path:      req.URL.Path,
				Route:     c.Path(),
				RemoteIP:  c.RealIP(),
				Status:    c.Response().Status,
				Timestamp: time.Now().UTC(),
			}
			rec.RequestID, _ = c.Get("request_id").(string)
			if err != nil {
				rec.Status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					rec.Status = he.Code
				}
			}

			logger.Info().
				Str("type", "patient_data_access").
				Str("request_id", rec.RequestID).
				Str("principal", rec.Principal).
				Str("patient_id", rec.PatientID).
				Str("method", rec.Method).
				Str("route", rec.Route).
				Str("remote_ip", rec.RemoteIP).
				Int("status", rec.Status).
				Msg("patient data access")

			if recorder != nil && err == nil && isRead(rec.Method) && rec.Status < 400 && rec.Principal != "" {
				if recErr := recorder.RecordAccess(req.Context(), rec); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", rec.RequestID).
						Msg("failed to record data access")
				}
			}
			return err
		}
	}
}

func patientParam(c echo.Context) string {
	for _, name := range []string{"patientId", "patient"} {
		if v := c.Param(name); v != "" {
			return v
		}
	}
	return ""
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}
