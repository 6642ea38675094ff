package consent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medledger/internal/domain/access"
	"github.com/ehr/medledger/internal/platform/auth"
)

func newContext(e *echo.Echo, method, target, body string, caller access.Principal) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req = req.WithContext(auth.WithPrincipal(req.Context(), string(caller)))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	return he.Code
}

func TestHandler_GrantAndCheck(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()

	c, rec := newContext(e, http.MethodPost, "/", `{"provider":"0xprovider","permissions":1,"expiry":0}`, patient)
	if err := h.GrantConsent(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c, rec = newContext(e, http.MethodGet, "/?permission=read", "", provider)
	c.SetParamNames("patient", "provider")
	c.SetParamValues(string(patient), string(provider))
	if err := h.CheckConsent(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Granted bool `json:"granted"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if !body.Granted {
		t.Error("expected granted")
	}

	c, _ = newContext(e, http.MethodGet, "/?permission=erase", "", provider)
	c.SetParamNames("patient", "provider")
	c.SetParamValues(string(patient), string(provider))
	if code := httpCode(t, h.CheckConsent(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GrantConsent_Forbidden(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()

	c, _ := newContext(e, http.MethodPost, "/", `{"provider":"0xstranger","permissions":1}`, patient)
	if code := httpCode(t, h.GrantConsent(c)); code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", code)
	}

	c, _ = newContext(e, http.MethodPost, "/", `{"provider":"0xprovider","permissions":0}`, patient)
	if code := httpCode(t, h.GrantConsent(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_RevokeMissing(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()

	c, _ := newContext(e, http.MethodDelete, "/", "", patient)
	c.SetParamNames("provider")
	c.SetParamValues(string(provider))
	if code := httpCode(t, h.RevokeConsent(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_UpdateAndList(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()
	f.svc.GrantConsent(context.Background(), patient, provider, PermissionRead, 0)

	c, rec := newContext(e, http.MethodPut, "/", `{"permissions":6}`, patient)
	c.SetParamNames("provider")
	c.SetParamValues(string(provider))
	if err := h.UpdatePermissions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var updated Record
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.Permissions != PermissionWrite|PermissionShare {
		t.Errorf("unexpected permissions %d", updated.Permissions)
	}

	c, rec = newContext(e, http.MethodGet, "/", "", patient)
	c.SetParamNames("patient")
	c.SetParamValues(string(patient))
	if err := h.ListByPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
