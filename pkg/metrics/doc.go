/*
Package metrics defines and registers every Prometheus metric the Master,
Gateway, and Worker roles expose, and a small Timer helper for observing
durations. All metrics are registered at package init against the global
Prometheus DefaultRegistry and exposed over HTTP via Handler.

# Metrics catalog

Cluster state:

  - antcode_workers_total{status}: Gauge, worker count by status.
  - antcode_tasks_total: Gauge, total Task count.
  - antcode_task_runs_total{status}: Gauge, TaskRun count by runtime status.

Leader election (pkg/election, consumed by pkg/master):

  - antcode_leader_is_leader: Gauge, 1 while this Master holds leadership.
  - antcode_leader_fencing_token: Gauge, the current term's fencing token.

Gateway API (pkg/gateway):

  - antcode_api_requests_total{method,status}: Counter.
  - antcode_api_request_duration_seconds{method}: Histogram, default buckets.

Scheduler (pkg/scheduler):

  - antcode_scheduling_latency_seconds: Histogram, default buckets.
  - antcode_task_runs_scheduled_total: Counter.
  - antcode_task_runs_dispatch_failed_total: Counter.

Reconciler (pkg/reconciler):

  - antcode_reconciliation_duration_seconds: Histogram, default buckets.
  - antcode_reconciliation_cycles_total: Counter.

Retry loop (pkg/retry):

  - antcode_retries_scheduled_total: Counter.
  - antcode_compensations_total{type}: Counter.

Worker engine (pkg/worker, pkg/runtime, pkg/logstream):

  - antcode_worker_running_tasks: Gauge, in-flight TaskRun count.
  - antcode_task_exec_duration_seconds{status}: Histogram, wide buckets
    (0.1s .. 1h) since task runtimes span interactive scripts to long jobs.
  - antcode_runtime_builds_total{outcome}: Counter (built, cached, failed).
  - antcode_runtime_build_duration_seconds: Histogram, default buckets.
  - antcode_log_batches_sent_total: Counter.
  - antcode_log_backpressure_state: Gauge, 0=normal .. 3=blocked.

# Usage

	import "github.com/antcode/antcode/pkg/metrics"

	metrics.WorkersTotal.WithLabelValues("ready").Set(5)
	metrics.TaskRunsScheduled.Inc()
	metrics.APIRequestsTotal.WithLabelValues("PollTask", "200").Inc()

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.SchedulingLatency)
	timer.ObserveDurationVec(metrics.TaskExecDuration, "success")

Exposing the endpoint:

	http.Handle("/metrics", metrics.Handler())

# Design notes

All metrics are package-level variables registered once in init(); there is
no runtime registration path and no per-request allocation. Label sets are
kept low-cardinality (status strings, method names) — never a task or run
ID — so memory use stays bounded regardless of cluster size.
*/
package metrics
