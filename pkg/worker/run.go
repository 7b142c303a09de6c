package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/dispatchsig"
	"github.com/antcode/antcode/pkg/executor"
	"github.com/antcode/antcode/pkg/gatewayrpc"
	"github.com/antcode/antcode/pkg/logstream"
	"github.com/antcode/antcode/pkg/metrics"
	"github.com/antcode/antcode/pkg/plugin"
	"github.com/antcode/antcode/pkg/runtime"
	"github.com/antcode/antcode/pkg/types"
)

// runTask carries one polled Task through authenticate -> fetch -> prepare
// runtime -> build plan -> execute -> finalize, generalizing the teacher's
// executeContainer's six-step body (pull -> mount -> volumes -> dns ->
// create+start -> monitor) onto a sandboxed Python subprocess lifecycle.
func (e *Engine) runTask(parent context.Context, task gatewayrpc.Task) {
	logger := e.logger.With().Str("run_id", task.RunID).Str("task_id", task.TaskID).Logger()
	timer := metrics.NewTimer()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if task.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, task.Timeout)
		defer timeoutCancel()
	}

	e.trackRun(&RunState{RunID: task.RunID, TaskID: task.TaskID, StartedAt: time.Now(), Cancel: cancel})
	defer e.untrackRun(task.RunID)

	queued := queuedTaskFromWire(task)
	if err := dispatchsig.Verify(e.cfg.SigningKey, queued); err != nil {
		logger.Warn().Err(err).Msg("rejecting task: signature verification failed")
		e.ackTask(task.Receipt, false, err.Error())
		return
	}
	e.ackTask(task.Receipt, true, "")

	result := e.execute(ctx, logger, task)
	result.TaskID = task.TaskID
	result.WorkerID = e.cfg.WorkerID

	metrics.TaskExecDuration.WithLabelValues(result.Status).Observe(timer.Duration().Seconds())
	logger.Info().Str("status", result.Status).Msg("task run finished")

	reportCtx, reportCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer reportCancel()
	if _, err := e.client.ReportResult(reportCtx, &gatewayrpc.ReportResultRequest{Result: result}); err != nil {
		logger.Error().Err(err).Msg("failed to report task result")
	}
}

// execute performs the fetch/prepare/build/execute middle of the pipeline,
// returning a terminal TaskResult whichever step fails.
func (e *Engine) execute(ctx context.Context, logger zerolog.Logger, task gatewayrpc.Task) gatewayrpc.TaskResult {
	startedAt := time.Now()

	projectPath, err := e.fetcher.Fetch(ctx, task.ProjectID, task.DownloadURL, task.FileHash, task.IsCompressed, task.EntryPoint)
	if err != nil {
		return failResult(task.RunID, startedAt, fmt.Errorf("fetch project artifact: %w", err))
	}

	spec := specForTask(task, e.cfg.DefaultPython)
	handle, err := e.runtimes.Prepare(ctx, spec, false)
	if err != nil {
		return failResult(task.RunID, startedAt, fmt.Errorf("prepare runtime: %w", err))
	}
	defer e.runtimes.Release(handle)

	payload := plugin.TaskPayload{
		RunID:       task.RunID,
		TaskID:      task.TaskID,
		ProjectID:   task.ProjectID,
		ProjectType: types.ProjectType(task.ProjectType),
		EntryPoint:  task.EntryPoint,
		ProjectPath: projectPath,
		Args:        task.Args,
		Params:      task.Params,
		EnvVars:     task.EnvVars,
	}
	runCtx := plugin.RunContext{
		TimeoutSeconds: int(task.Timeout / time.Second),
		Runtime:        handle,
	}
	plan, err := e.registry.BuildPlan(ctx, runCtx, payload)
	if err != nil {
		return failResult(task.RunID, startedAt, fmt.Errorf("build plan: %w", err))
	}
	// ExecPlan.PluginName doubles as the executor's run identifier (see
	// pkg/executor's register/Cancel keying): stamp the real run ID here so
	// concurrent runs of the same plugin never collide on that key.
	plan.PluginName = task.RunID

	sender := logstream.NewBatchSender(task.RunID, &logTransport{client: e.client}, logstream.DefaultBatchConfig())
	sender.Start()
	defer func() {
		sender.Flush(context.Background())
		sender.Stop(context.Background())
	}()

	execRes, err := e.exec.Run(ctx, plan, executor.RuntimeHandle{Path: handle.Path, PythonExecutable: handle.PythonExecutable}, &batchLogSink{sender: sender})
	if err != nil {
		return failResult(task.RunID, startedAt, fmt.Errorf("execute plan: %w", err))
	}

	logger.Debug().Str("exit_reason", string(execRes.ExitReason)).Msg("plan execution complete")
	return resultFromExec(task.RunID, execRes)
}

func (e *Engine) ackTask(receipt string, accepted bool, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := e.client.AckTask(ctx, &gatewayrpc.AckTaskRequest{Receipt: receipt, Accepted: accepted, Reason: reason}); err != nil {
		e.logger.Warn().Err(err).Str("receipt", receipt).Bool("accepted", accepted).Msg("ack task failed")
	}
}

// queuedTaskFromWire reconstructs the types.QueuedTask a Master signed,
// mirroring it field-for-field off the wire Task gatewayrpc decoded.
func queuedTaskFromWire(t gatewayrpc.Task) types.QueuedTask {
	q := types.QueuedTask{
		RunID:        t.RunID,
		TaskID:       t.TaskID,
		ProjectID:    t.ProjectID,
		ProjectType:  types.ProjectType(t.ProjectType),
		Priority:     t.Priority,
		Timeout:      t.Timeout,
		DownloadURL:  t.DownloadURL,
		FileHash:     t.FileHash,
		IsCompressed: t.IsCompressed,
		EntryPoint:   t.EntryPoint,
		Params:       t.Params,
		Environment:  t.EnvVars,
	}
	if t.Signature != nil {
		q.Signature = &types.DispatchSignature{
			IssuedAt:  t.Signature.IssuedAt,
			ExpiresAt: t.Signature.ExpiresAt,
			Nonce:     t.Signature.Nonce,
			Signature: t.Signature.Signature,
			Algorithm: t.Signature.Algorithm,
		}
	}
	return q
}

// specForTask derives a runtime.Spec from a task's Params, the convention
// this repo establishes for a Worker-resolved Python environment: the source
// had no equivalent, since every teacher container already carried a
// pre-built image.
func specForTask(task gatewayrpc.Task, defaultPython string) runtime.Spec {
	pythonVersion := defaultPython
	if v, ok := task.Params["python_version"].(string); ok && v != "" {
		pythonVersion = v
	}

	spec := runtime.Simple(pythonVersion, stringSliceParam(task.Params, "requirements"))
	spec.Constraints = stringSliceParam(task.Params, "constraints")
	spec.Extras = stringSliceParam(task.Params, "extras")
	return spec.WithEnvVars(task.EnvVars)
}

func stringSliceParam(params map[string]any, key string) []string {
	raw, ok := params[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func failResult(runID string, startedAt time.Time, err error) gatewayrpc.TaskResult {
	now := time.Now()
	return gatewayrpc.TaskResult{
		RunID:     runID,
		Status:    string(types.RuntimeFailed),
		ExitCode:  -1,
		Error:     err.Error(),
		StartTime: startedAt.Unix(),
		EndTime:   now.Unix(),
	}
}

func resultFromExec(runID string, res executor.ExecResult) gatewayrpc.TaskResult {
	exitCode := -1
	if res.ExitCode != nil {
		exitCode = *res.ExitCode
	}
	artifacts := make([]string, 0, len(res.Artifacts))
	for _, a := range res.Artifacts {
		artifacts = append(artifacts, a.Path)
	}
	return gatewayrpc.TaskResult{
		RunID:     runID,
		Status:    string(res.Status),
		ExitCode:  exitCode,
		Error:     res.ErrorMessage,
		StartTime: res.StartedAt.Unix(),
		EndTime:   res.FinishedAt.Unix(),
		Artifacts: artifacts,
	}
}

// logTransport adapts a gatewayrpc.Client to logstream.Transport.
type logTransport struct {
	client gatewayrpc.Client
}

func (t *logTransport) SendLogBatch(ctx context.Context, runID string, entries []logstream.Entry) error {
	wireEntries := make([]gatewayrpc.LogEntry, 0, len(entries))
	for _, e := range entries {
		wireEntries = append(wireEntries, gatewayrpc.LogEntry{
			RunID:     runID,
			Sequence:  e.Seq,
			Stream:    e.Stream,
			Data:      e.Content,
			Timestamp: e.Timestamp.Unix(),
		})
	}
	_, err := t.client.SendLogBatch(ctx, &gatewayrpc.SendLogBatchRequest{Entries: wireEntries})
	return err
}

// batchLogSink adapts an executor.LogSink onto a logstream.BatchSender,
// allocating the monotonic per-run sequence numbers spec.md's LogStreamer
// calls for. stdout and stderr are streamed from separate goroutines, so
// sequence allocation must be atomic.
type batchLogSink struct {
	sender *logstream.BatchSender
	seq    atomic.Int64
}

func (s *batchLogSink) Write(entry executor.LogEntry) error {
	s.sender.Write(context.Background(), logstream.Entry{
		RunID:     entry.RunID,
		Stream:    entry.Stream,
		Content:   entry.Line,
		Seq:       s.seq.Add(1),
		Timestamp: entry.Timestamp,
	})
	return nil
}

func (s *batchLogSink) Flush() error {
	s.sender.Flush(context.Background())
	return nil
}
