// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission outcomes used as the "outcome" label.
const (
	OutcomeAdmitted     = "admitted"
	OutcomePrivileged   = "privileged"
	OutcomeDeniedClient = "denied_client"
	OutcomeDeniedDaily  = "denied_daily"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures request latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// ActiveConnections tracks current active connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of active connections",
		},
	)

	// AdmissionDecisionsTotal counts gate decisions by outcome.
	AdmissionDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Total number of admission decisions by outcome",
		},
		[]string{"outcome"},
	)

	// AdmissionDailyAdmitted mirrors the global counter for the current day.
	AdmissionDailyAdmitted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "admission_daily_admitted",
			Help: "Requests admitted so far in the current UTC day",
		},
	)

	// AdmissionResetsTotal counts operator resets.
	AdmissionResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "admission_resets_total",
			Help: "Total number of operator-triggered limiter resets",
		},
	)

	// AdminLoginsTotal counts operator login attempts by result.
	AdminLoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_logins_total",
			Help: "Total number of operator login attempts",
		},
		[]string{"result"},
	)

	// UpstreamRequestsTotal counts proxied upstream calls by status.
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Total number of upstream inference requests",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records an HTTP request metric.
func RecordRequest(method, path string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDecision records an admission outcome.
func RecordDecision(outcome string) {
	AdmissionDecisionsTotal.WithLabelValues(outcome).Inc()
}

// SetDailyAdmitted sets the current day's admitted total.
func SetDailyAdmitted(total int) {
	AdmissionDailyAdmitted.Set(float64(total))
}

// RecordReset records an operator reset.
func RecordReset() {
	AdmissionResetsTotal.Inc()
	AdmissionDailyAdmitted.Set(0)
}

// RecordLogin records an operator login attempt.
func RecordLogin(result string) {
	AdminLoginsTotal.WithLabelValues(result).Inc()
}

// RecordUpstream records an upstream response status.
func RecordUpstream(status int) {
	UpstreamRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}
