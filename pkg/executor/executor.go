// Package executor runs a task's ExecPlan inside a prepared Python runtime,
// either as a bare process or wrapped in a sandbox, and reports an ExecResult.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/antcode/antcode/pkg/types"
)

// ExitReason classifies why a run stopped, independent of its terminal status.
type ExitReason string

const (
	ExitNormal    ExitReason = "normal"
	ExitTimeout   ExitReason = "timeout"
	ExitKilled    ExitReason = "killed"
	ExitCancelled ExitReason = "cancelled"
	ExitError     ExitReason = "error"
)

// ArtifactRef points at a file a run produced, relative to its work directory.
type ArtifactRef struct {
	Path string
	Size int64
}

// ExecPlan is the runnable unit a plugin's BuildPlan produces: a command, its
// arguments and environment, resource limits and collection preferences.
type ExecPlan struct {
	Command            string
	Args               []string
	Env                map[string]string
	Cwd                string
	TimeoutSeconds     int
	GracePeriodSeconds int
	MemoryLimitMB      int
	CPULimitSeconds    int
	ArtifactPatterns   []string
	CollectStdout      bool
	CollectStderr      bool
	SandboxEnabled     bool
	PluginName         string
}

// ExecResult is what a run produced: its terminal status, exit code, timing
// and any artifacts collected from the work directory.
type ExecResult struct {
	RunID        string
	Status       types.RuntimeStatus
	ExitCode     *int
	ExitReason   ExitReason
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
	DurationMS   float64
	Artifacts    []ArtifactRef
}

// RuntimeHandle is the subset of runtime.Handle an executor needs: where the
// interpreter lives. Declared locally so this package doesn't import
// pkg/runtime just to describe a path and an executable.
type RuntimeHandle struct {
	Path             string
	PythonExecutable string
}

// LogEntry is one line of process output, tagged with its stream.
type LogEntry struct {
	RunID     string
	Stream    string // stdout | stderr | system
	Line      string
	Timestamp time.Time
}

// LogSink receives LogEntry values as a run produces them.
type LogSink interface {
	Write(entry LogEntry) error
	Flush() error
}

// NoOpLogSink discards everything written to it.
type NoOpLogSink struct{}

func (NoOpLogSink) Write(LogEntry) error { return nil }
func (NoOpLogSink) Flush() error         { return nil }

// Config bounds an Executor's concurrency and defaults.
type Config struct {
	MaxConcurrent          int
	DefaultTimeout         time.Duration
	DefaultGracePeriod     time.Duration
	DefaultMemoryLimitMB   int
	DefaultCPULimitSeconds int
	MaxOutputLines         int
	MaxOutputBytes         int64
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent:          5,
		DefaultTimeout:         time.Hour,
		DefaultGracePeriod:     10 * time.Second,
		DefaultMemoryLimitMB:   0,
		DefaultCPULimitSeconds: 0,
		MaxOutputLines:         100_000,
		MaxOutputBytes:         100 * 1024 * 1024,
	}
}

// Stats accumulates outcome counts across an Executor's lifetime.
type Stats struct {
	TotalExecutions int64
	Completed       int64
	Failed          int64
	Cancelled       int64
	Timeout         int64
	Running         int64
}

var (
	_ Executor = (*ProcessExecutor)(nil)
	_ Executor = (*SandboxExecutor)(nil)
)

// Executor runs an ExecPlan against a prepared RuntimeHandle.
type Executor interface {
	Run(ctx context.Context, plan ExecPlan, handle RuntimeHandle, sink LogSink) (ExecResult, error)
	Cancel(runID string) bool
	Start()
	Stop(gracePeriod time.Duration)
	Stats() Stats
	RunningCount() int
	AvailableSlots() int
}

// base carries the concurrency control, run bookkeeping and statistics every
// Executor implementation shares, mirroring the source's BaseExecutor.
type base struct {
	config Config

	sem chan struct{}

	mu      sync.Mutex
	running map[string]context.CancelFunc
	stats   Stats
}

func newBase(config Config) base {
	return base{
		config:  config,
		sem:     make(chan struct{}, config.MaxConcurrent),
		running: make(map[string]context.CancelFunc),
	}
}

func (b *base) register(runID string, cancel context.CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running[runID] = cancel
	b.stats.Running = int64(len(b.running))
}

func (b *base) unregister(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.running, runID)
	b.stats.Running = int64(len(b.running))
}

func (b *base) cancel(runID string) bool {
	b.mu.Lock()
	cancel, ok := b.running[runID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (b *base) runningCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.running)
}

func (b *base) availableSlots() int {
	return b.config.MaxConcurrent - b.runningCount()
}

func (b *base) updateStats(status types.RuntimeStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.TotalExecutions++
	switch status {
	case types.RuntimeSuccess:
		b.stats.Completed++
	case types.RuntimeFailed:
		b.stats.Failed++
	case types.RuntimeCancelled:
		b.stats.Cancelled++
	case types.RuntimeTimeout:
		b.stats.Timeout++
	}
}

func (b *base) snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func newResult(runID string, status types.RuntimeStatus, exitCode *int, reason ExitReason, errMsg string, startedAt, finishedAt time.Time, artifacts []ArtifactRef) ExecResult {
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}
	return ExecResult{
		RunID:        runID,
		Status:       status,
		ExitCode:     exitCode,
		ExitReason:   reason,
		ErrorMessage: errMsg,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
		DurationMS:   float64(finishedAt.Sub(startedAt).Microseconds()) / 1000.0,
		Artifacts:    artifacts,
	}
}
