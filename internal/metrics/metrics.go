// Package metrics exposes the node's Prometheus surface: worker queue
// depth, per-op task counts, per-peer replication attempts/failures, and
// backup duration. Grounded on cuemby-warren's pkg/metrics/metrics.go
// (package-level vars + init() registration + a Handler() for wiring into
// the HTTP mux).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvnode_worker_queue_depth",
			Help: "Number of tasks currently buffered in the worker pool",
		},
	)

	WorkerTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvnode_worker_tasks_total",
			Help: "Total number of tasks executed by the worker pool, by operation",
		},
		[]string{"op"},
	)

	WorkerTaskErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvnode_worker_task_errors_total",
			Help: "Total number of worker task executions that returned an error, by operation",
		},
		[]string{"op"},
	)

	ReplicationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvnode_replication_attempts_total",
			Help: "Total number of replication attempts, by peer and outcome",
		},
		[]string{"peer", "outcome"},
	)

	BackupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kvnode_backup_duration_seconds",
			Help:    "Time taken to complete a hot backup, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvnode_request_duration_seconds",
			Help:    "RPC request duration in seconds, by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(WorkerQueueDepth)
	prometheus.MustRegister(WorkerTasksTotal)
	prometheus.MustRegister(WorkerTaskErrorsTotal)
	prometheus.MustRegister(ReplicationAttemptsTotal)
	prometheus.MustRegister(BackupDuration)
	prometheus.MustRegister(RequestDuration)
}

// Handler returns the Prometheus scrape handler for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ReplicationHook adapts OnAttempt's (peer, success) callback shape into the
// attempts counter's peer/outcome labels.
func ReplicationHook(peer string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	ReplicationAttemptsTotal.WithLabelValues(peer, outcome).Inc()
}

// Timer is a small stopwatch helper for histogram observations.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed reports the time since the timer started, for callers that also
// want the raw duration (e.g. for logging) alongside a histogram observation.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
