// Package metrics exposes Prometheus instrumentation for sync runs, the
// remote source and the circuit breaker guarding it.
//
// Usage:
//
//	metrics.RecordFetch(metrics.FetchNotModified)
//	metrics.RecordBatch(true)
//	metrics.RecordRun("ok", elapsed, records, skipped, inserted, deleted)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes used as the "result" label of FetchesTotal.
const (
	FetchOK          = "ok"
	FetchNotModified = "not_modified"
	FetchError       = "error"
	FetchRejected    = "rejected"
)

var (
	// Run metrics

	// SyncRunsTotal counts completed sync runs by final status.
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgxsync_sync_runs_total",
			Help: "Total number of sync runs by status",
		},
		[]string{"status"},
	)

	// SyncRunDuration tracks wall time of a sync run.
	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tgxsync_sync_run_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// LastSuccessTimestamp is the unix time of the last run that completed
	// without error.
	LastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tgxsync_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful sync run",
		},
	)

	// Record metrics

	RecordsParsedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgxsync_records_parsed_total",
			Help: "Total number of well-formed dump records handed to the upserter",
		},
	)

	RecordsSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgxsync_records_skipped_total",
			Help: "Total number of malformed dump lines dropped by the parser",
		},
	)

	RowsInsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgxsync_rows_inserted_total",
			Help: "Total number of rows newly inserted into the torrents table",
		},
	)

	RowsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgxsync_rows_deleted_total",
			Help: "Total number of duplicate rows removed by deduplication",
		},
	)

	// BatchWritesTotal counts batch writes by result (ok, failed).
	BatchWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgxsync_batch_writes_total",
			Help: "Total number of batch writes by result",
		},
		[]string{"result"},
	)

	// Source metrics

	// FetchesTotal counts dump fetches by result.
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgxsync_fetches_total",
			Help: "Total number of dump fetches by result",
		},
		[]string{"result"},
	)

	// Circuit breaker metrics

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tgxsync_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgxsync_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)

// RecordFetch counts one fetch attempt.
func RecordFetch(result string) {
	FetchesTotal.WithLabelValues(result).Inc()
}

// RecordBatch counts one batch write.
func RecordBatch(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	BatchWritesTotal.WithLabelValues(result).Inc()
}

// RecordRun records the outcome of a finished sync run.
func RecordRun(status string, elapsed time.Duration, records, skipped, inserted, deleted int) {
	SyncRunsTotal.WithLabelValues(status).Inc()
	SyncRunDuration.Observe(elapsed.Seconds())
	RecordsParsedTotal.Add(float64(records))
	RecordsSkippedTotal.Add(float64(skipped))
	RowsInsertedTotal.Add(float64(inserted))
	RowsDeletedTotal.Add(float64(deleted))
}

// RecordSuccess stamps the time of the last successful run.
func RecordSuccess(at time.Time) {
	LastSuccessTimestamp.Set(float64(at.Unix()))
}
