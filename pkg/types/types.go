// Package types defines the shared data model for tasks, runs, workers and runtimes.
package types

import "time"

// ProjectType identifies what kind of project a Task executes.
type ProjectType string

const (
	ProjectTypeCode   ProjectType = "code"
	ProjectTypeFile   ProjectType = "file"
	ProjectTypeRule   ProjectType = "rule"
	ProjectTypeRender ProjectType = "render"
)

// DispatchStrategy controls how the scheduler resolves a target Worker for a Task.
type DispatchStrategy string

const (
	DispatchFixed              DispatchStrategy = "fixed"
	DispatchAnyCapable         DispatchStrategy = "any_capable"
	DispatchPreferWithFallback DispatchStrategy = "prefer_bound_with_fallback"
)

// DispatchStatus tracks the lifecycle of handing a TaskRun to a Worker.
type DispatchStatus string

const (
	DispatchPending     DispatchStatus = "pending"
	DispatchDispatching DispatchStatus = "dispatching"
	DispatchDispatched  DispatchStatus = "dispatched"
	DispatchAcked       DispatchStatus = "acked"
	DispatchRejected    DispatchStatus = "rejected"
	DispatchTimeout     DispatchStatus = "timeout"
	DispatchFailed      DispatchStatus = "failed"
)

// dispatchOrder gives DispatchStatus a total order for monotonicity checks.
var dispatchOrder = map[DispatchStatus]int{
	DispatchPending:     0,
	DispatchDispatching: 1,
	DispatchDispatched:  2,
	DispatchAcked:       3,
	DispatchRejected:    3,
	DispatchTimeout:     3,
	DispatchFailed:      3,
}

// Order returns this status's position in the dispatch ordering.
func (s DispatchStatus) Order() int { return dispatchOrder[s] }

// RuntimeStatus tracks the execution lifecycle of a TaskRun.
type RuntimeStatus string

const (
	RuntimeQueued    RuntimeStatus = "queued"
	RuntimeRunning   RuntimeStatus = "running"
	RuntimeSuccess   RuntimeStatus = "success"
	RuntimeFailed    RuntimeStatus = "failed"
	RuntimeCancelled RuntimeStatus = "cancelled"
	RuntimeTimeout   RuntimeStatus = "timeout"
	RuntimeSkipped   RuntimeStatus = "skipped"
)

var runtimeOrder = map[RuntimeStatus]int{
	RuntimeQueued:    0,
	RuntimeRunning:   1,
	RuntimeSuccess:   2,
	RuntimeFailed:    2,
	RuntimeCancelled: 2,
	RuntimeTimeout:   2,
	RuntimeSkipped:   2,
}

// Order returns this status's position in the runtime ordering.
func (s RuntimeStatus) Order() int { return runtimeOrder[s] }

// Terminal reports whether the status ends a TaskRun's lifecycle.
func (s RuntimeStatus) Terminal() bool {
	switch s {
	case RuntimeSuccess, RuntimeFailed, RuntimeCancelled, RuntimeTimeout, RuntimeSkipped:
		return true
	default:
		return false
	}
}

// Task is a recurring or one-shot unit of work owned by the metadata store.
type Task struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	ProjectID     string            `json:"project_id"`
	ProjectType   ProjectType       `json:"project_type"`
	EntryPoint    string            `json:"entry_point"`
	Strategy      DispatchStrategy  `json:"strategy"`
	BoundWorkerID string            `json:"bound_worker_id,omitempty"`
	Capabilities  []string          `json:"capabilities,omitempty"`
	Priority      int               `json:"priority"`
	Timeout       time.Duration     `json:"timeout"`
	// DownloadURL, FileHash and IsCompressed locate and verify the project
	// artifact a Worker fetches before executing this Task.
	DownloadURL  string            `json:"download_url"`
	FileHash     string            `json:"file_hash"`
	IsCompressed *bool             `json:"is_compressed,omitempty"`
	Params       map[string]any    `json:"params,omitempty"`
	Environment  map[string]string `json:"environment,omitempty"`
	NextRunTime  time.Time         `json:"next_run_time"`
	Active       bool              `json:"active"`
	SuccessCount int64             `json:"success_count"`
	FailureCount int64             `json:"failure_count"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// TaskRun is a single execution attempt of a Task.
type TaskRun struct {
	ID             string         `json:"id"`
	TaskID         string         `json:"task_id"`
	WorkerID       string         `json:"worker_id,omitempty"`
	DispatchStatus DispatchStatus `json:"dispatch_status"`
	DispatchAt     time.Time      `json:"dispatch_at"`
	RuntimeStatus  RuntimeStatus  `json:"runtime_status"`
	RuntimeAt      time.Time      `json:"runtime_at"`
	StartTime      time.Time      `json:"start_time,omitempty"`
	EndTime        time.Time      `json:"end_time,omitempty"`
	ExitCode       *int           `json:"exit_code,omitempty"`
	Error          string         `json:"error,omitempty"`
	Receipt        string         `json:"receipt,omitempty"`
	LeaderToken    uint64         `json:"leader_token"`
	RetryCount     int            `json:"retry_count"`
}

// ApplyDispatch applies a dispatch status transition, dropping stale updates per
// the (order, timestamp) monotonicity rule.
func (r *TaskRun) ApplyDispatch(status DispatchStatus, at time.Time) bool {
	if status.Order() < r.DispatchStatus.Order() {
		return false
	}
	if status.Order() == r.DispatchStatus.Order() && at.Before(r.DispatchAt) {
		return false
	}
	r.DispatchStatus = status
	r.DispatchAt = at
	return true
}

// ApplyRuntime applies a runtime status transition with the same monotonicity rule,
// stamping EndTime when the new status is terminal.
func (r *TaskRun) ApplyRuntime(status RuntimeStatus, at time.Time) bool {
	if status.Order() < r.RuntimeStatus.Order() {
		return false
	}
	if status.Order() == r.RuntimeStatus.Order() && at.Before(r.RuntimeAt) {
		return false
	}
	r.RuntimeStatus = status
	r.RuntimeAt = at
	if status.Terminal() && r.EndTime.IsZero() {
		r.EndTime = at
	}
	return true
}

// WorkerStatus reflects the Master's view of a Worker's liveness.
type WorkerStatus string

const (
	WorkerOnline  WorkerStatus = "online"
	WorkerOffline WorkerStatus = "offline"
)

// Worker is a registered execution agent.
type Worker struct {
	ID            string       `json:"id"`
	Labels        []string     `json:"labels,omitempty"`
	Capabilities  []string     `json:"capabilities,omitempty"`
	Zone          string       `json:"zone,omitempty"`
	Hostname      string       `json:"hostname,omitempty"`
	IP            string       `json:"ip,omitempty"`
	Version       string       `json:"version,omitempty"`
	Status        WorkerStatus `json:"status"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	MaxConcurrent int          `json:"max_concurrent"`
	RunningTasks  int          `json:"running_tasks"`
	APIKeyHash    string       `json:"api_key_hash,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// QueuedTask is the payload handed to a Worker's ready stream.
type QueuedTask struct {
	RunID        string             `json:"run_id"`
	TaskID       string             `json:"task_id"`
	ProjectID    string             `json:"project_id"`
	ProjectType  ProjectType        `json:"project_type"`
	Priority     int                `json:"priority"`
	Timeout      time.Duration      `json:"timeout"`
	DownloadURL  string             `json:"download_url"`
	FileHash     string             `json:"file_hash"`
	IsCompressed *bool              `json:"is_compressed,omitempty"`
	EntryPoint   string             `json:"entry_point"`
	Params       map[string]any     `json:"params,omitempty"`
	Environment  map[string]string  `json:"environment,omitempty"`
	Signature    *DispatchSignature `json:"signature,omitempty"`
}

// DispatchSignature authenticates a QueuedTask payload end to end.
type DispatchSignature struct {
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
	Algorithm string `json:"algorithm"`
}

// TaskResult is the outcome reported by a Worker after executing a QueuedTask.
type TaskResult struct {
	RunID     string        `json:"run_id"`
	Status    RuntimeStatus `json:"status"`
	ExitCode  int           `json:"exit_code"`
	Error     string        `json:"error,omitempty"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Artifacts []string      `json:"artifacts,omitempty"`
}

// InstallKey is a one-time token authorizing a single Worker registration.
type InstallKey struct {
	Key          string    `json:"key"`
	OSBinding    string    `json:"os_binding,omitempty"`
	SourceCIDR   string    `json:"source_cidr,omitempty"`
	SourceHost   string    `json:"source_host,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Consumed     bool      `json:"consumed"`
	ConsumedByID string    `json:"consumed_by_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
