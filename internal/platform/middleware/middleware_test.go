package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/medledger/internal/platform/auth"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid := c.Get("request_id").(string)
		if rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	}

	mw := RequestID()
	h := mw(handler)
	err := h(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid := c.Get("request_id").(string)
		if rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	}

	mw := RequestID()
	h := mw(handler)
	h(c)

	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	logger := zerolog.New(os.Stderr).With().Logger()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	mw := Logger(logger)
	h := mw(handler)
	err := h(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	logger := zerolog.New(os.Stderr).With().Logger()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		panic("test panic")
	}

	mw := Recovery(logger)
	h := mw(handler)
	err := h(c)

	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	logger := zerolog.New(os.Stderr).With().Logger()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	mw := Recovery(logger)
	h := mw(handler)
	err := h(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAccessLog_RecordsSuccessfulPatientReads(t *testing.T) {
	e := echo.New()
	var got []AccessRecord
	recorder := AccessRecorderFunc(func(_ context.Context, rec AccessRecord) error {
		got = append(got, rec)
		return nil
	})
	mw := AccessLog(zerolog.Nop(), recorder)

	call := func(method, path, patientID string, handler echo.HandlerFunc) {
		req := httptest.NewRequest(method, path, nil)
		req = req.WithContext(auth.WithPrincipal(req.Context(), "0xprovider"))
		c := e.NewContext(req, httptest.NewRecorder())
		c.SetPath("/api/v1/data/:patientId")
		if patientID != "" {
			c.SetParamNames("patientId")
			c.SetParamValues(patientID)
		}
		c.Set("request_id", "req-1")
		mw(handler)(c)
	}
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }

	call(http.MethodGet, "/api/v1/data/X1", "X1", ok)
	call(http.MethodGet, "/api/v1/data/X1", "X1", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "no consent")
	})
	call(http.MethodPost, "/api/v1/data/X1", "X1", ok)
	call(http.MethodGet, "/api/v1/roles", "", ok)
	call(http.MethodGet, "/health", "X1", ok)

	if len(got) != 1 {
		t.Fatalf("expected 1 recorded access, got %d: %+v", len(got), got)
	}
	rec := got[0]
	if rec.PatientID != "X1" || rec.Principal != "0xprovider" || rec.RequestID != "req-1" ||
		rec.Route != "/api/v1/data/:patientId" || rec.Status != http.StatusOK {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestAccessLog_RecorderFailureDoesNotFailRequest(t *testing.T) {
	e := echo.New()
	mw := AccessLog(zerolog.Nop(), AccessRecorderFunc(func(context.Context, AccessRecord) error {
		return errors.New("audit down")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/data/X1", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), "0xpatient"))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("patientId")
	c.SetParamValues("X1")

	if err := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
