package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/feedmodel/internal/domain/feed"
)

// Metrics holds all Prometheus metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Feed metrics
	Commits        *prometheus.CounterVec
	CommitDuration *prometheus.HistogramVec
	TokensHandled  *prometheus.CounterVec
	InternalErrors *prometheus.CounterVec
	ModelErrors    *prometheus.CounterVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	Refreshes       *prometheus.CounterVec

	// Store metrics
	StoreCalls    *prometheus.CounterVec
	StoreDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
}

// NewMetrics creates a metrics collector with its own registry, so tests and
// multiple servers in one process never collide on registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feed_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		Commits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_commits_total",
				Help: "Committed mutations by handler",
			},
			[]string{"handler"},
		),
		CommitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feed_commit_duration_seconds",
				Help:    "Mutation commit duration in seconds, including binding",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"handler"},
		),
		TokensHandled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_tokens_handled_total",
				Help: "Tokens handed to the model provider",
			},
			[]string{"kind"},
		),
		InternalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_internal_errors_total",
				Help: "Internal errors reported by model providers",
			},
			[]string{"kind"},
		),
		ModelErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_model_errors_total",
				Help: "Model errors raised on providers",
			},
			[]string{"type"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "feed_sessions_active",
				Help: "Number of live sessions",
			},
		),
		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "feed_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		Refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_refreshes_total",
				Help: "Refresh requests by reason",
			},
			[]string{"reason"},
		),

		StoreCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_store_calls_total",
				Help: "Content store calls",
			},
			[]string{"method", "status"},
		),
		StoreDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feed_store_duration_seconds",
				Help:    "Content store call duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "feed_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_ws_messages_total",
				Help: "WebSocket messages sent by event type",
			},
			[]string{"type"},
		),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// CommitApplied implements feed.Recorder.
func (m *Metrics) CommitApplied(kind string, duration time.Duration) {
	m.Commits.WithLabelValues(kind).Inc()
	m.CommitDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// TokenHandled implements feed.Recorder.
func (m *Metrics) TokenHandled(synthetic bool) {
	kind := "server"
	if synthetic {
		kind = "synthetic"
	}
	m.TokensHandled.WithLabelValues(kind).Inc()
}

// OnInternalError implements feed.Diagnostics.
func (m *Metrics) OnInternalError(kind feed.InternalError) {
	m.InternalErrors.WithLabelValues(kind.String()).Inc()
}

// RecordModelError counts a model error raised on a provider.
func (m *Metrics) RecordModelError(errorType feed.ErrorType) {
	m.ModelErrors.WithLabelValues(errorType.String()).Inc()
}

// RecordRefresh counts a refresh request.
func (m *Metrics) RecordRefresh(reason feed.RequestReason) {
	m.Refreshes.WithLabelValues(reason.String()).Inc()
}

// RecordStoreCall records a content store call
func (m *Metrics) RecordStoreCall(method, status string, duration time.Duration) {
	m.StoreCalls.WithLabelValues(method, status).Inc()
	m.StoreDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// SetSessionsActive sets the number of live sessions
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
}

// IncSessionsCreated increments the sessions created counter
func (m *Metrics) IncSessionsCreated() {
	m.SessionsCreated.Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// RecordWSMessage records an outgoing WebSocket message
func (m *Metrics) RecordWSMessage(msgType string) {
	m.WSMessages.WithLabelValues(msgType).Inc()
}
