// Package pkdmetrics exposes the handful of Prometheus collectors
// this service reports: connection pool acquisition latency (spec
// component C2) and processing stage duration (C10/C11). Generalizes
// Boulder's metrics.Scope (metrics/scope.go), which wraps an open
// prometheus.Registerer behind a prefix-and-auto-register string
// namespace; SPEC_FULL needs only a fixed, known set of named metrics
// rather than an open namespace, so this package registers concrete
// collectors directly instead of reimplementing that generic Scope
// interface.
package pkdmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolAcquireDuration records how long callers waited to acquire a
	// database or LDAP connection, labeled by pool name ("db",
	// "ldap-read", "ldap-write").
	PoolAcquireDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pkd_pool_acquire_duration_seconds",
		Help:    "Time spent acquiring a pooled connection.",
		Buckets: prometheus.DefBuckets,
	}, []string{"pool"})

	// StageDuration records how long a processing stage of the AUTO/
	// MANUAL ingestion strategies took, labeled by progress.Stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pkd_stage_duration_seconds",
		Help:    "Time spent in each ingestion processing stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	// UploadsTotal counts accepted uploads by terminal outcome
	// ("completed", "failed").
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pkd_uploads_total",
		Help: "Uploads processed, by terminal outcome.",
	}, []string{"outcome"})
)

// ObservePoolAcquire records the elapsed time since start against
// pool's acquisition histogram. Call via defer at the top of an
// Acquire method: `defer pkdmetrics.ObservePoolAcquire("db", time.Now())`.
func ObservePoolAcquire(pool string, start time.Time) {
	PoolAcquireDuration.WithLabelValues(pool).Observe(time.Since(start).Seconds())
}

// ObserveStage records the elapsed time since start against stage's
// duration histogram.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
