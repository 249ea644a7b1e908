// Package metrics is the ambient Prometheus observability layer: it
// answers "how is the engine process doing" (executions per second,
// registry size, block execution latency), a concern distinct from the
// per-execution block.MetricsRecorder, which answers "what did this
// simulation measure" and is returned to the caller as part of the
// ExecutionResult (spec §4.1, §9 "Metrics as a passive sink").
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	BlocksRegisteredTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockengine_blocks_registered_total",
			Help: "Total number of blocks currently registered",
		},
	)

	ConnectionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockengine_connections_total",
			Help: "Total number of connections currently registered",
		},
	)

	BlockRegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockengine_block_registrations_total",
			Help: "Total number of block registration attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Graph validation metrics
	ValidationRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockengine_validation_runs_total",
			Help: "Total number of graph validation runs by result",
		},
		[]string{"result"},
	)

	ValidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blockengine_validation_duration_seconds",
			Help:    "Time taken to validate a graph in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Execution engine metrics
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockengine_executions_total",
			Help: "Total number of engine executions by outcome",
		},
		[]string{"outcome"},
	)

	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blockengine_execution_duration_seconds",
			Help:    "Total engine execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BlockExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockengine_block_execution_duration_seconds",
			Help:    "Per-block execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"block_type"},
	)

	ExecutionsCancelledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockengine_executions_cancelled_total",
			Help: "Total number of executions that observed the cancellation flag",
		},
	)

	BlockFatalErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockengine_block_fatal_errors_total",
			Help: "Total number of fatal block errors by block type",
		},
		[]string{"block_type"},
	)

	ThroughputOpsPerSecond = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockengine_last_execution_throughput_ops_per_second",
			Help: "Throughput of the most recently completed execution",
		},
	)

	// Workload generator metrics
	WorkloadOperationsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockengine_workload_operations_generated_total",
			Help: "Total number of synthetic operations generated by op type",
		},
		[]string{"op_type"},
	)

	// Snapshot persistence metrics
	SnapshotWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockengine_snapshot_writes_total",
			Help: "Total number of block-state snapshot writes by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(BlocksRegisteredTotal)
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(BlockRegistrationsTotal)
	prometheus.MustRegister(ValidationRunsTotal)
	prometheus.MustRegister(ValidationDuration)
	prometheus.MustRegister(ExecutionsTotal)
	prometheus.MustRegister(ExecutionDuration)
	prometheus.MustRegister(BlockExecutionDuration)
	prometheus.MustRegister(ExecutionsCancelledTotal)
	prometheus.MustRegister(BlockFatalErrorsTotal)
	prometheus.MustRegister(ThroughputOpsPerSecond)
	prometheus.MustRegister(WorkloadOperationsGenerated)
	prometheus.MustRegister(SnapshotWritesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
