package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/log"
	"github.com/antcode/antcode/pkg/metrics"
	"github.com/antcode/antcode/pkg/types"
)

// ProcessExecutor runs an ExecPlan as a bare OS process: it builds the
// command, streams stdout/stderr to a LogSink line by line, and enforces the
// plan's timeout with a SIGTERM-then-SIGKILL grace period.
type ProcessExecutor struct {
	base
	logger zerolog.Logger
}

func NewProcessExecutor(config Config) *ProcessExecutor {
	return &ProcessExecutor{base: newBase(config), logger: log.WithComponent("process-executor")}
}

func (e *ProcessExecutor) Start() { e.logger.Info().Int("max_concurrent", e.config.MaxConcurrent).Msg("executor started") }

func (e *ProcessExecutor) Stop(gracePeriod time.Duration) {
	e.mu.Lock()
	runIDs := make([]string, 0, len(e.running))
	for id := range e.running {
		runIDs = append(runIDs, id)
	}
	e.mu.Unlock()

	for _, id := range runIDs {
		e.cancel(id)
	}
	if len(runIDs) > 0 {
		time.Sleep(gracePeriod)
	}
	e.logger.Info().Msg("executor stopped")
}

func (e *ProcessExecutor) Cancel(runID string) bool { return e.cancel(runID) }
func (e *ProcessExecutor) Stats() Stats              { return e.snapshot() }
func (e *ProcessExecutor) RunningCount() int         { return e.runningCount() }
func (e *ProcessExecutor) AvailableSlots() int       { return e.availableSlots() }

func (e *ProcessExecutor) Run(ctx context.Context, plan ExecPlan, handle RuntimeHandle, sink LogSink) (ExecResult, error) {
	if sink == nil {
		sink = NoOpLogSink{}
	}
	runID := plan.PluginName

	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	return e.execute(ctx, runID, plan, handle, sink)
}

func (e *ProcessExecutor) execute(ctx context.Context, runID string, plan ExecPlan, handle RuntimeHandle, sink LogSink) (ExecResult, error) {
	startedAt := time.Now()

	timeout := time.Duration(plan.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	gracePeriod := time.Duration(plan.GracePeriodSeconds) * time.Second
	if gracePeriod <= 0 {
		gracePeriod = e.config.DefaultGracePeriod
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.register(runID, cancel)
	defer e.unregister(runID)

	timeoutCtx, timeoutCancel := context.WithTimeout(runCtx, timeout)
	defer timeoutCancel()

	// Built with context.Background(), not timeoutCtx: os/exec kills the
	// process outright (SIGKILL) the instant its context is done, which
	// would pre-empt the SIGTERM grace period below. Stopping is driven
	// entirely by terminate() instead.
	cmd := e.buildCommand(context.Background(), plan, handle)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return e.fail(runID, startedAt, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return e.fail(runID, startedAt, err)
	}

	if err := cmd.Start(); err != nil {
		return e.fail(runID, startedAt, fmt.Errorf("start process: %w", err))
	}

	done := make(chan error, 1)
	go e.streamLines(runID, "stdout", stdout, sink)
	go e.streamLines(runID, "stderr", stderr, sink)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	var reason ExitReason
	select {
	case waitErr = <-done:
		reason = ExitNormal
	case <-timeoutCtx.Done():
		reason = e.classifyStop(runCtx, timeoutCtx)
		e.terminate(cmd, gracePeriod, done)
		waitErr = <-done
	}

	finishedAt := time.Now()
	_ = sink.Flush()

	exitCode := extractExitCode(cmd, waitErr)
	status := statusFor(reason, exitCode, waitErr)
	var errMsg string
	if waitErr != nil && status != types.RuntimeSuccess {
		errMsg = waitErr.Error()
	}

	result := newResult(runID, status, exitCode, reason, errMsg, startedAt, finishedAt, e.collectArtifacts(plan, handle))
	e.updateStats(status)
	metrics.TaskExecDuration.WithLabelValues(string(status)).Observe(result.DurationMS / 1000.0)

	return result, nil
}

func (e *ProcessExecutor) classifyStop(runCtx, timeoutCtx context.Context) ExitReason {
	if runCtx.Err() != nil {
		return ExitCancelled
	}
	if timeoutCtx.Err() != nil {
		return ExitTimeout
	}
	return ExitKilled
}

func (e *ProcessExecutor) terminate(cmd *exec.Cmd, gracePeriod time.Duration, done <-chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(gracePeriod):
		_ = cmd.Process.Kill()
	}
}

func (e *ProcessExecutor) buildCommand(ctx context.Context, plan ExecPlan, handle RuntimeHandle) *exec.Cmd {
	command := plan.Command
	args := plan.Args
	if filepath.Ext(command) == ".py" && handle.PythonExecutable != "" {
		args = append([]string{command}, args...)
		command = handle.PythonExecutable
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = plan.Cwd

	env := os.Environ()
	if handle.Path != "" {
		env = append(env, "VIRTUAL_ENV="+handle.Path, "PYTHONPATH="+handle.Path)
	}
	for k, v := range plan.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	return cmd
}

func (e *ProcessExecutor) streamLines(runID, stream string, r io.Reader, sink LogSink) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		_ = sink.Write(LogEntry{RunID: runID, Stream: stream, Line: scanner.Text(), Timestamp: time.Now()})
	}
}

func (e *ProcessExecutor) collectArtifacts(plan ExecPlan, handle RuntimeHandle) []ArtifactRef {
	if len(plan.ArtifactPatterns) == 0 {
		return nil
	}
	workDir := plan.Cwd
	if workDir == "" {
		workDir = handle.Path
	}
	var artifacts []ArtifactRef
	for _, pattern := range plan.ArtifactPatterns {
		matches, err := filepath.Glob(filepath.Join(workDir, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			rel, err := filepath.Rel(workDir, m)
			if err != nil {
				rel = m
			}
			artifacts = append(artifacts, ArtifactRef{Path: rel, Size: info.Size()})
		}
	}
	return artifacts
}

func (e *ProcessExecutor) fail(runID string, startedAt time.Time, err error) (ExecResult, error) {
	result := newResult(runID, types.RuntimeFailed, nil, ExitError, err.Error(), startedAt, time.Now(), nil)
	e.updateStats(types.RuntimeFailed)
	return result, nil
}

func extractExitCode(cmd *exec.Cmd, err error) *int {
	if cmd.ProcessState == nil {
		return nil
	}
	code := cmd.ProcessState.ExitCode()
	return &code
}

func statusFor(reason ExitReason, exitCode *int, err error) types.RuntimeStatus {
	switch reason {
	case ExitCancelled:
		return types.RuntimeCancelled
	case ExitTimeout:
		return types.RuntimeTimeout
	case ExitKilled:
		return types.RuntimeFailed
	}
	if err != nil {
		return types.RuntimeFailed
	}
	if exitCode != nil && *exitCode != 0 {
		return types.RuntimeFailed
	}
	return types.RuntimeSuccess
}
