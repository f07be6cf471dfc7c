package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Refresh scheduler metrics
	RefreshCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_refresh_cycles_total",
			Help: "Total number of per-repository refresh cycles by outcome",
		},
		[]string{"outcome"},
	)

	RefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quarry_refresh_duration_seconds",
			Help:    "Time taken by one repository refresh cycle in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	SnapshotsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_snapshots_published_total",
			Help: "Total number of versioned snapshots published via alias swap",
		},
	)

	SnapshotsRetired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_snapshots_retired_total",
			Help: "Total number of snapshot directories deleted by the cleanup manager",
		},
	)

	// Cleanup manager metrics
	CleanupFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_cleanup_failures_total",
			Help: "Total number of failed snapshot deletion attempts",
		},
	)

	CleanupTripsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_cleanup_circuit_trips_total",
			Help: "Total number of cleanup entries abandoned after repeated failures",
		},
	)

	CleanupTicksSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_cleanup_ticks_skipped_total",
			Help: "Total number of cleanup ticks skipped due to file-descriptor pressure",
		},
	)

	CleanupPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quarry_cleanup_pending",
			Help: "Number of snapshot paths currently awaiting deletion",
		},
	)

	// Query tracker metrics
	QueryRefsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quarry_query_refs_active",
			Help: "Number of in-flight readers across all snapshot paths",
		},
	)

	// Write lock metrics
	LockAcquisitionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_lock_acquisitions_total",
			Help: "Total number of successful write-lock acquisitions",
		},
	)

	StaleLockEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_stale_lock_evictions_total",
			Help: "Total number of stale write locks evicted (dead pid, expired ttl, bad metadata)",
		},
	)

	// Search orchestrator metrics
	SearchRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_search_requests_total",
			Help: "Total number of cross-repository search requests",
		},
	)

	SearchRepoErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_search_repo_errors_total",
			Help: "Total number of per-repository search failures by kind",
		},
		[]string{"kind"},
	)

	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quarry_search_duration_seconds",
			Help:    "End-to-end time of a cross-repository search in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Job metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_jobs_total",
			Help: "Total number of triggered refresh jobs by final status",
		},
		[]string{"status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RefreshCyclesTotal)
	prometheus.MustRegister(RefreshDuration)
	prometheus.MustRegister(SnapshotsPublished)
	prometheus.MustRegister(SnapshotsRetired)
	prometheus.MustRegister(CleanupFailuresTotal)
	prometheus.MustRegister(CleanupTripsTotal)
	prometheus.MustRegister(CleanupTicksSkipped)
	prometheus.MustRegister(CleanupPending)
	prometheus.MustRegister(QueryRefsActive)
	prometheus.MustRegister(LockAcquisitionsTotal)
	prometheus.MustRegister(StaleLockEvictionsTotal)
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchRepoErrorsTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(JobsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
