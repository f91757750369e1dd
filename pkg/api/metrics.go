package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of the front end.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	runsTotal     *prometheus.CounterVec
	runSteps      prometheus.Histogram
	runsRejected  *prometheus.CounterVec
	configReloads *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recruit_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recruit_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"method", "endpoint"},
		),

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recruit_runs_total",
				Help: "Engine invocations by terminal status and reason",
			},
			[]string{"status", "reason"},
		),

		runSteps: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "recruit_run_steps",
				Help:    "Units dispatched per engine invocation",
				Buckets: []float64{0, 1, 2, 3, 4, 5, 6},
			},
		),

		runsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recruit_runs_rejected_total",
				Help: "Run requests rejected before reaching the engine",
			},
			[]string{"code"},
		),

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recruit_config_reloads_total",
				Help: "Total number of configuration reload attempts by status",
			},
			[]string{"status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.runsTotal,
		m.runSteps,
		m.runsRejected,
		m.configReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRun records a finished engine invocation.
func (m *Metrics) RecordRun(result domain.RunResult) {
	m.runsTotal.WithLabelValues(string(result.Status), result.Reason).Inc()
	m.runSteps.Observe(float64(result.Steps))
}

// RecordRejected records a request turned away with code.
func (m *Metrics) RecordRejected(code string) {
	m.runsRejected.WithLabelValues(code).Inc()
}

// RecordConfigReload records a configuration reload attempt.
func (m *Metrics) RecordConfigReload(status string) {
	m.configReloads.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsMiddleware creates HTTP middleware that records request metrics.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, getEndpointName(r.URL.Path), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// getEndpointName extracts a normalized endpoint name from the path.
func getEndpointName(path string) string {
	switch {
	case path == "/healthz":
		return "health"
	case path == "/metrics":
		return "metrics"
	case path == "/api/v1/runs":
		return "start"
	case path == "/api/v1/runs/resume":
		return "resume"
	case strings.HasPrefix(path, "/api/v1/runs/") && strings.HasSuffix(path, "/trace"):
		return "trace"
	case path == "/api/v1/recruitment/execute":
		return "legacy_execute"
	case path == "/api/v1/recruitment/approve":
		return "legacy_approve"
	default:
		return "unknown"
	}
}
