package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	testRunsStartedTotal  prometheus.Counter
	testTokensConsumed    prometheus.Counter
	taAssignmentsCreated  prometheus.Counter
	permissionSyncsTotal  prometheus.Counter
	groupingsDeletedTotal prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors used across the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		testRunsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "test_runs_started_total",
			Help: "Total number of automated test runs started.",
		})

		testTokensConsumed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "test_tokens_consumed_total",
			Help: "Total number of test tokens consumed by student runs.",
		})

		taAssignmentsCreated = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ta_assignments_created_total",
			Help: "Total number of TA memberships created by bulk assignment.",
		})

		permissionSyncsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repository_permission_syncs_total",
			Help: "Total number of repository permission synchronisations.",
		})

		groupingsDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupings_deleted_total",
			Help: "Total number of groupings deleted.",
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			testRunsStartedTotal,
			testTokensConsumed,
			taAssignmentsCreated,
			permissionSyncsTotal,
			groupingsDeletedTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// TestRunsStarted exposes the counter for started test runs.
func TestRunsStarted() prometheus.Counter {
	RegisterMetrics()
	return testRunsStartedTotal
}

// TestTokensConsumed exposes the counter for consumed test tokens.
func TestTokensConsumed() prometheus.Counter {
	RegisterMetrics()
	return testTokensConsumed
}

// TAAssignmentsCreated exposes the counter for bulk TA assignments.
func TAAssignmentsCreated() prometheus.Counter {
	RegisterMetrics()
	return taAssignmentsCreated
}

// PermissionSyncs exposes the counter for repository permission syncs.
func PermissionSyncs() prometheus.Counter {
	RegisterMetrics()
	return permissionSyncsTotal
}

// GroupingsDeleted exposes the counter for deleted groupings.
func GroupingsDeleted() prometheus.Counter {
	RegisterMetrics()
	return groupingsDeletedTotal
}
