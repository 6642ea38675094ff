// Package telemetry keeps in-process ledger metrics and serves them in the
// Prometheus text exposition format.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medledger/internal/platform/events"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram is a fixed-bucket histogram. Bucket counts are stored
// non-cumulative and summed at export.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(&h.sum, old, next) {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulative() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

// Metrics is the process-wide metric registry.
type Metrics struct {
	mu         sync.RWMutex
	durations  map[string]*histogram // method|route|status
	events     map[string]*int64     // event kind
	failed     map[string]*int64     // event kind
	active     int64
	startedAt  time.Time
	serviceVer string
}

func New(version string) *Metrics {
	return &Metrics{
		durations:  make(map[string]*histogram),
		events:     make(map[string]*int64),
		failed:     make(map[string]*int64),
		startedAt:  time.Now(),
		serviceVer: version,
	}
}

// LabelsKey builds the key of one labeled request histogram.
func LabelsKey(method, route, status string) string {
	return method + "|" + route + "|" + status
}

func (m *Metrics) histogram(key string) *histogram {
	m.mu.RLock()
	h, ok := m.durations[key]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.durations[key]; !ok {
		h = newHistogram(durationBuckets)
		m.durations[key] = h
	}
	return h
}

func (m *Metrics) inc(set map[string]*int64, key string) {
	m.mu.RLock()
	p, ok := set[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if p, ok = set[key]; !ok {
			p = new(int64)
			set[key] = p
		}
		m.mu.Unlock()
	}
	atomic.AddInt64(p, 1)
}

func (m *Metrics) load(set map[string]*int64, key string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := set[key]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

// RequestCount returns how many requests matched the given labels.
func (m *Metrics) RequestCount(method, route, status string) int64 {
	m.mu.RLock()
	h, ok := m.durations[LabelsKey(method, route, status)]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return h.Count()
}

// EventCount returns how many events of kind were observed.
func (m *Metrics) EventCount(kind string) int64 {
	return m.load(m.events, kind)
}

// Middleware records request durations labeled by method, route and status.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&m.active, -1)
			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			m.histogram(LabelsKey(c.Request().Method, route, strconv.Itoa(status))).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Publish counts ev by kind. It never fails, so it can sit in an events.Multi
// next to publishers that do.
func (m *Metrics) Publish(_ context.Context, ev events.Event) error {
	m.inc(m.events, ev.Kind)
	return nil
}

// Observe wraps next so that publish failures are counted per kind.
func (m *Metrics) Observe(next events.Publisher) events.Publisher {
	return events.PublisherFunc(func(ctx context.Context, ev events.Event) error {
		err := next.Publish(ctx, ev)
		if err != nil {
			m.inc(m.failed, ev.Kind)
		}
		return err
	})
}

// Handler serves /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		m.write(&b)
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func (m *Metrics) write(b *strings.Builder) {
	m.mu.RLock()
	durations := make(map[string]*histogram, len(m.durations))
	for k, v := range m.durations {
		durations[k] = v
	}
	evs := snapshot(m.events)
	failed := snapshot(m.failed)
	m.mu.RUnlock()

	fmt.Fprintf(b, "# HELP medledger_build_info Build information.\n# TYPE medledger_build_info gauge\n")
	fmt.Fprintf(b, "medledger_build_info{version=%q} 1\n\n", m.serviceVer)

	fmt.Fprintf(b, "# HELP process_uptime_seconds Seconds since the server started.\n# TYPE process_uptime_seconds gauge\n")
	fmt.Fprintf(b, "process_uptime_seconds %g\n\n", time.Since(m.startedAt).Seconds())

	b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

	b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
	b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
	for _, key := range sortedKeys(durations) {
		parts := strings.SplitN(key, "|", 3)
		if len(parts) != 3 {
			continue
		}
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeHistogram(b, "http_server_request_duration_seconds", labels, durations[key])
	}
	b.WriteByte('\n')

	writeCounter(b, "ledger_events_total", "Ledger events published by kind.", evs)
	writeCounter(b, "ledger_event_publish_failures_total", "Ledger events that failed to reach the stream.", failed)
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulative()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.Count())
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.Count())
}

func writeCounter(b *strings.Builder, name, help string, values map[string]int64) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
	for _, kind := range sortedKeys(values) {
		fmt.Fprintf(b, "%s{kind=%q} %d\n", name, kind, values[kind])
	}
	b.WriteByte('\n')
}

func snapshot(set map[string]*int64) map[string]int64 {
	out := make(map[string]int64, len(set))
	for k, p := range set {
		out[k] = atomic.LoadInt64(p)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
