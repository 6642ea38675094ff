package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medledger/internal/platform/events"
)

func TestHistogram_BucketsAreCumulative(t *testing.T) {
	h := newHistogram([]float64{1, 5, 10})
	for _, v := range []float64{0.5, 3, 3, 7, 20} {
		h.Observe(v)
	}
	want := []int64{1, 3, 4}
	got := h.cumulative()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bucket %d: expected %d, got %d", i, want[i], got[i])
		}
	}
	if h.Count() != 5 {
		t.Errorf("expected 5 observations, got %d", h.Count())
	}
	if h.Sum() != 33.5 {
		t.Errorf("expected sum 33.5, got %g", h.Sum())
	}
}

func TestHistogram_ConcurrentObserve(t *testing.T) {
	h := newHistogram(durationBuckets)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Observe(0.001)
		}()
	}
	wg.Wait()
	if h.Count() != 100 {
		t.Errorf("expected 100 observations, got %d", h.Count())
	}
}

func TestMiddleware_LabelsByRouteAndStatus(t *testing.T) {
	m := New("test")
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/data/:patientId", func(c echo.Context) error {
		if c.Param("patientId") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound, "no entries")
		}
		return c.NoContent(http.StatusOK)
	})

	for _, path := range []string{"/api/v1/data/P1", "/api/v1/data/P2", "/api/v1/data/missing"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := m.RequestCount(http.MethodGet, "/api/v1/data/:patientId", "200"); got != 2 {
		t.Errorf("expected 2 ok requests, got %d", got)
	}
	if got := m.RequestCount(http.MethodGet, "/api/v1/data/:patientId", "404"); got != 1 {
		t.Errorf("expected 1 not-found request, got %d", got)
	}
}

func TestPublish_CountsByKind(t *testing.T) {
	m := New("test")
	ctx := context.Background()
	_ = m.Publish(ctx, events.Event{Kind: events.DataRegistered})
	_ = m.Publish(ctx, events.Event{Kind: events.DataRegistered})
	_ = m.Publish(ctx, events.Event{Kind: events.ConsentGranted})

	if m.EventCount(events.DataRegistered) != 2 {
		t.Errorf("expected 2 registrations, got %d", m.EventCount(events.DataRegistered))
	}
	if m.EventCount(events.ConsentRevoked) != 0 {
		t.Error("expected no revocations")
	}
}

func TestObserve_CountsFailures(t *testing.T) {
	m := New("test")
	failing := events.PublisherFunc(func(context.Context, events.Event) error {
		return errors.New("stream down")
	})
	pub := m.Observe(failing)
	if err := pub.Publish(context.Background(), events.Event{Kind: events.DataDeactivated}); err == nil {
		t.Fatal("expected the underlying error to be returned")
	}
	if got := m.load(m.failed, events.DataDeactivated); got != 1 {
		t.Errorf("expected 1 failure, got %d", got)
	}
}

func TestHandler_ExpositionFormat(t *testing.T) {
	m := New("0.1.0")
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/metrics", m.Handler())

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	_ = m.Publish(context.Background(), events.Event{Kind: events.RoleAssigned})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`medledger_build_info{version="0.1.0"} 1`,
		"# TYPE http_server_request_duration_seconds histogram",
		`http_server_request_duration_seconds_count{method="GET",route="/health",status_code="200"} 1`,
		`le="+Inf"`,
		`ledger_events_total{kind="role.assigned"} 1`,
		"# TYPE ledger_event_publish_failures_total counter",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if !strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), "text/plain") {
		t.Errorf("unexpected content type %q", rec.Header().Get(echo.HeaderContentType))
	}
}
