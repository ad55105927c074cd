// Package metrics holds the Prometheus collectors of the leaderboard service.
//
// Collectors are registered on the default registry through promauto, so
// importing the package is enough for them to appear on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaderboard_http_requests_total",
			Help: "Total number of HTTP requests by method, route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leaderboard_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Sync
	SyncUserResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaderboard_sync_user_results_total",
			Help: "Per-user sync outcomes by mode and result (success, skipped, error)",
		},
		[]string{"mode", "result"},
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leaderboard_sync_run_duration_seconds",
			Help:    "Duration of whole sync runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"mode"},
	)

	CredentialRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaderboard_credential_refreshes_total",
			Help: "OAuth credential refresh attempts by result",
		},
		[]string{"result"},
	)

	// Upstream
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaderboard_upstream_requests_total",
			Help: "WakaTime API calls by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	// Circuit breaker (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leaderboard_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaderboard_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Background jobs
	JobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leaderboard_jobs_queued",
			Help: "Background jobs waiting to run",
		},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaderboard_jobs_completed_total",
			Help: "Background jobs finished, by name and result",
		},
		[]string{"job", "result"},
	)
)

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordSyncUser records the outcome of one user within a sync run.
func RecordSyncUser(mode, result string) {
	SyncUserResults.WithLabelValues(mode, result).Inc()
}

// RecordSyncRun records the duration of a finished sync run.
func RecordSyncRun(mode string, duration time.Duration) {
	SyncRunDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordJob records a finished background job.
func RecordJob(name string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	JobsCompleted.WithLabelValues(name, result).Inc()
}
