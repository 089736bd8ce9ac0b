// Package metrics exposes Prometheus metrics for HTTP traffic and the session
// authority.
//
// Metric naming follows Prometheus conventions:
//   - backoffice_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records
// nothing, which keeps the auth package usable without a registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	loginsTotal             *prometheus.CounterVec
	tokenVerificationsTotal *prometheus.CounterVec
	refreshTotal            *prometheus.CounterVec
	revocationsTotal        prometheus.Counter
	revocationsPrunedTotal  prometheus.Counter
}

// New creates a Metrics instance with its own registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_http_requests_total",
				Help: "Total HTTP requests by endpoint, method and status code.",
			},
			[]string{"endpoint", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backoffice_http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint", "method"},
		),
		loginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_auth_logins_total",
				Help: "Login attempts by result.",
			},
			[]string{"result"},
		),
		tokenVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_auth_token_verifications_total",
				Help: "Token verifications by result (ok or the internal rejection reason).",
			},
			[]string{"result"},
		),
		refreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_auth_refresh_total",
				Help: "Refresh token rotations by result.",
			},
			[]string{"result"},
		),
		revocationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoffice_auth_revocations_total",
			Help: "Token ids newly added to the revocation record.",
		}),
		revocationsPrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoffice_auth_revocations_pruned_total",
			Help: "Expired revocation entries removed by the sweep.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.loginsTotal,
		m.tokenVerificationsTotal,
		m.refreshTotal,
		m.revocationsTotal,
		m.revocationsPrunedTotal,
	)

	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest records a request
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	endpoint := normalizeEndpoint(path)
	m.requestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// ObserveLogin counts a login attempt
func (m *Metrics) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.loginsTotal.WithLabelValues(result).Inc()
}

// ObserveTokenVerification counts a token verification
func (m *Metrics) ObserveTokenVerification(result string) {
	if m == nil {
		return
	}
	m.tokenVerificationsTotal.WithLabelValues(result).Inc()
}

// ObserveRefresh counts a refresh rotation attempt
func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(result).Inc()
}

// ObserveRevocation counts a newly revoked token id
func (m *Metrics) ObserveRevocation() {
	if m == nil {
		return
	}
	m.revocationsTotal.Inc()
}

// ObservePruned counts revocation entries removed by a sweep
func (m *Metrics) ObservePruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.revocationsPrunedTotal.Add(float64(n))
}

// normalizeEndpoint normalizes an endpoint path for metrics (removes IDs)
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		} else if len(part) > 0 && isNumeric(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MetricsMiddleware creates middleware that records request metrics
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &statusResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			m.RecordRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *statusResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
