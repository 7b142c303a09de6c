package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "antcode_workers_total",
			Help: "Total number of workers by status",
		},
		[]string{"status"},
	)

	TasksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "antcode_tasks_total",
			Help: "Total number of tasks",
		},
	)

	TaskRunsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "antcode_task_runs_total",
			Help: "Total number of task runs by runtime status",
		},
		[]string{"status"},
	)

	// Leader election metrics
	LeaderIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "antcode_leader_is_leader",
			Help: "Whether this master holds leadership (1 = leader, 0 = follower)",
		},
	)

	LeaderFencingToken = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "antcode_leader_fencing_token",
			Help: "Current fencing token held by this leader term",
		},
	)

	// Gateway API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antcode_api_requests_total",
			Help: "Total number of Gateway RPCs by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "antcode_api_request_duration_seconds",
			Help:    "Gateway RPC duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "antcode_scheduling_latency_seconds",
			Help:    "Time taken to schedule task runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TaskRunsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "antcode_task_runs_scheduled_total",
			Help: "Total number of task runs scheduled",
		},
	)

	TaskRunsDispatchFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "antcode_task_runs_dispatch_failed_total",
			Help: "Total number of task runs that failed to dispatch",
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "antcode_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "antcode_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	// Retry loop metrics
	RetriesScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "antcode_retries_scheduled_total",
			Help: "Total number of task runs rescheduled for retry",
		},
	)

	CompensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antcode_compensations_total",
			Help: "Total number of compensations triggered by type",
		},
		[]string{"type"},
	)

	// Worker engine metrics
	WorkerRunningTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "antcode_worker_running_tasks",
			Help: "Number of task runs currently executing on this worker",
		},
	)

	TaskExecDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "antcode_task_exec_duration_seconds",
			Help:    "Task execution duration in seconds by terminal status",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"status"},
	)

	RuntimeBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antcode_runtime_builds_total",
			Help: "Total number of runtime builds by outcome (built, cached, failed)",
		},
		[]string{"outcome"},
	)

	RuntimeBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "antcode_runtime_build_duration_seconds",
			Help:    "Runtime build duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LogBatchesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "antcode_log_batches_sent_total",
			Help: "Total number of log batches flushed to the live channel",
		},
	)

	LogBackpressureState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "antcode_log_backpressure_state",
			Help: "Current backpressure classification (0=normal,1=warning,2=critical,3=blocked)",
		},
	)
)

func init() {
	prometheus.MustRegister(
		WorkersTotal,
		TasksTotal,
		TaskRunsTotal,
		LeaderIsLeader,
		LeaderFencingToken,
		APIRequestsTotal,
		APIRequestDuration,
		SchedulingLatency,
		TaskRunsScheduled,
		TaskRunsDispatchFailed,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		RetriesScheduled,
		CompensationsTotal,
		WorkerRunningTasks,
		TaskExecDuration,
		RuntimeBuildsTotal,
		RuntimeBuildDuration,
		LogBatchesSent,
		LogBackpressureState,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
