package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the bridge host.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Bridge metrics
	BridgeCalls    *prometheus.CounterVec
	BridgeDuration *prometheus.HistogramVec

	// Interception metrics
	AjaxDecisions *prometheus.CounterVec

	// Web message metrics
	WebMessages *prometheus.CounterVec

	// Page metrics
	PagesActive        prometheus.Gauge
	PagesTotal         prometheus.Counter
	Evaluations        *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec

	// Link metrics
	LinksActive  prometheus.Gauge
	LinkMessages *prometheus.CounterVec
	BreakerState *prometheus.GaugeVec

	startTime time.Time
	snapshot  Snapshot
	mu        sync.RWMutex
}

// Snapshot holds current values for the JSON stats API.
type Snapshot struct {
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	BridgeCalls     int64   `json:"bridge_calls"`
	BridgeFailures  int64   `json:"bridge_failures"`
	AjaxDecisions   int64   `json:"ajax_decisions"`
	WebMessages     int64   `json:"web_messages"`
	ActivePages     int64   `json:"active_pages"`
	ActiveLinks     int64   `json:"active_links"`
	AvgBridgeMillis float64 `json:"avg_bridge_ms"`
	UptimeSeconds   float64 `json:"uptime_seconds"`

	bridgeSeconds float64
}

// NewMetrics creates a collector registered with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	latency := []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webbridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webbridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: latency,
			},
			[]string{"method", "path"},
		),

		BridgeCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webbridge_bridge_calls_total",
				Help: "Total number of page-to-host handler calls",
			},
			[]string{"handler", "outcome"},
		),
		BridgeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webbridge_bridge_call_duration_seconds",
				Help:    "Handler call duration in seconds",
				Buckets: latency,
			},
			[]string{"handler"},
		),

		AjaxDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webbridge_ajax_decisions_total",
				Help: "Total number of intercepted request decisions",
			},
			[]string{"handler", "outcome"},
		),

		WebMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webbridge_web_messages_total",
				Help: "Total number of web message channel operations",
			},
			[]string{"op", "outcome"},
		),

		PagesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webbridge_pages_active",
				Help: "Number of open pages",
			},
		),
		PagesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webbridge_pages_total",
				Help: "Total number of pages opened",
			},
		),
		Evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webbridge_evaluations_total",
				Help: "Total number of script evaluations",
			},
			[]string{"adapter", "status"},
		),
		EvaluationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webbridge_evaluation_duration_seconds",
				Help:    "Script evaluation duration in seconds",
				Buckets: latency,
			},
			[]string{"adapter"},
		),

		LinksActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webbridge_links_active",
				Help: "Number of connected page links",
			},
		),
		LinkMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webbridge_link_messages_total",
				Help: "Total number of page link frames",
			},
			[]string{"direction", "type"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "webbridge_breaker_state",
				Help: "Circuit breaker state per link (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "webbridge_uptime_seconds",
			Help: "Host uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordBridgeCall records a page-to-host handler call.
func (m *Metrics) RecordBridgeCall(handler, outcome string, d time.Duration) {
	m.BridgeCalls.WithLabelValues(handler, outcome).Inc()
	m.BridgeDuration.WithLabelValues(handler).Observe(d.Seconds())

	m.mu.Lock()
	m.snapshot.BridgeCalls++
	m.snapshot.bridgeSeconds += d.Seconds()
	if outcome != "ok" {
		m.snapshot.BridgeFailures++
	}
	m.mu.Unlock()
}

// RecordAjaxDecision records an interception decision.
func (m *Metrics) RecordAjaxDecision(handler, outcome string) {
	m.AjaxDecisions.WithLabelValues(handler, outcome).Inc()
	m.mu.Lock()
	m.snapshot.AjaxDecisions++
	m.mu.Unlock()
}

// RecordWebMessage records a channel or listener operation.
func (m *Metrics) RecordWebMessage(op, outcome string) {
	m.WebMessages.WithLabelValues(op, outcome).Inc()
	m.mu.Lock()
	m.snapshot.WebMessages++
	m.mu.Unlock()
}

// RecordEvaluation records a script evaluation on a page.
func (m *Metrics) RecordEvaluation(adapter, status string, d time.Duration) {
	m.Evaluations.WithLabelValues(adapter, status).Inc()
	m.EvaluationDuration.WithLabelValues(adapter).Observe(d.Seconds())
}

// RecordLinkMessage records a frame on a page link.
func (m *Metrics) RecordLinkMessage(direction, msgType string) {
	m.LinkMessages.WithLabelValues(direction, msgType).Inc()
}

// SetBreakerState records a breaker transition.
func (m *Metrics) SetBreakerState(name string, state int) {
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// PageOpened counts a new page.
func (m *Metrics) PageOpened() {
	m.PagesActive.Inc()
	m.PagesTotal.Inc()
	m.mu.Lock()
	m.snapshot.ActivePages++
	m.mu.Unlock()
}

// PageClosed decrements the open pages.
func (m *Metrics) PageClosed() {
	m.PagesActive.Dec()
	m.mu.Lock()
	m.snapshot.ActivePages--
	m.mu.Unlock()
}

// LinkConnected increments the connected links.
func (m *Metrics) LinkConnected() {
	m.LinksActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveLinks++
	m.mu.Unlock()
}

// LinkClosed decrements the connected links.
func (m *Metrics) LinkClosed() {
	m.LinksActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveLinks--
	m.mu.Unlock()
}

// Snapshot returns the current values.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	if s.BridgeCalls > 0 {
		s.AvgBridgeMillis = s.bridgeSeconds / float64(s.BridgeCalls) * 1000
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
