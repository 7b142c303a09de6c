// Package scheduler implements the Master's scheduling loop (spec §4.2):
// each tick, it lists eligible Tasks, resolves a target Worker per the
// Task's DispatchStrategy, creates a TaskRun, and enqueues a QueuedTask on
// that Worker's ready stream.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/dispatchsig"
	"github.com/antcode/antcode/pkg/log"
	"github.com/antcode/antcode/pkg/metrics"
	"github.com/antcode/antcode/pkg/queue"
	"github.com/antcode/antcode/pkg/store"
	"github.com/antcode/antcode/pkg/types"
)

// dispatchSignatureTTL bounds how long a dispatched payload's signature
// remains valid, wide enough to tolerate a Worker's poll/fetch latency.
const dispatchSignatureTTL = 10 * time.Minute

// Scheduler assigns due Tasks to Workers by fewest running tasks,
// respecting each Task's DispatchStrategy. Ties go to the first Worker in
// store order; queue depth is not consulted.
type Scheduler struct {
	store  store.Store
	queue  queue.Queue
	logger zerolog.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	inFlight map[string]bool // Task IDs currently being scheduled this tick, for idempotency

	signingKey []byte // HMAC secret for dispatch signatures; unset disables signing
}

// SetSigningKey configures the HMAC secret used to sign dispatched
// QueuedTask payloads. Leaving it unset dispatches unsigned tasks, which a
// Worker only accepts if it is likewise configured with no verification key.
func (s *Scheduler) SetSigningKey(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signingKey = key
}

// NewScheduler creates a Scheduler over store (Task/TaskRun/Worker metadata)
// and q (the per-Worker ready streams).
func NewScheduler(st store.Store, q queue.Queue) *Scheduler {
	return &Scheduler{
		store:    st,
		queue:    q,
		logger:   log.WithComponent("scheduler"),
		inFlight: make(map[string]bool),
	}
}

// Start begins the scheduling loop on tickInterval, running until ctx is
// done or Stop is called. Safe to call again after a prior Stop, so a
// Master can restart the loop across leadership terms.
func (s *Scheduler) Start(ctx context.Context, tickInterval time.Duration) {
	s.mu.Lock()
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()
	go s.run(ctx, tickInterval, stopCh)
}

// Stop halts the scheduling loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}

func (s *Scheduler) run(ctx context.Context, tickInterval time.Duration, stopCh chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.schedule(ctx); err != nil {
				s.logger.Error().Err(err).Msg("scheduling cycle failed")
			}
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		}
	}
}

// schedule performs one scheduling cycle: due Tasks get a TaskRun and a
// dispatch to a target Worker's ready stream.
func (s *Scheduler) schedule(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.store.ListDueTasks(time.Now().Unix())
	if err != nil {
		return fmt.Errorf("list due tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	workers, err := s.store.ListWorkers()
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	online := filterOnlineWorkers(workers)
	if len(online) == 0 {
		s.logger.Warn().Msg("no online workers available for scheduling")
		return nil
	}

	for _, task := range tasks {
		if s.inFlight[task.ID] {
			continue
		}
		s.inFlight[task.ID] = true
		if err := s.dispatchTask(ctx, task, online); err != nil {
			metrics.TaskRunsDispatchFailed.Inc()
			s.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to dispatch task")
		}
		delete(s.inFlight, task.ID)
	}
	return nil
}

func (s *Scheduler) dispatchTask(ctx context.Context, task *types.Task, workers []*types.Worker) error {
	worker, err := s.selectWorker(task, workers)
	if err != nil {
		return err
	}

	timer := metrics.NewTimer()
	now := time.Now()
	run := &types.TaskRun{
		ID:             uuid.New().String(),
		TaskID:         task.ID,
		WorkerID:       worker.ID,
		DispatchStatus: types.DispatchPending,
		DispatchAt:     now,
		RuntimeStatus:  types.RuntimeQueued,
		RuntimeAt:      now,
	}
	if err := s.store.CreateTaskRun(run); err != nil {
		return fmt.Errorf("create task run: %w", err)
	}

	queued := types.QueuedTask{
		RunID:        run.ID,
		TaskID:       task.ID,
		ProjectID:    task.ProjectID,
		ProjectType:  task.ProjectType,
		Priority:     task.Priority,
		Timeout:      task.Timeout,
		DownloadURL:  task.DownloadURL,
		FileHash:     task.FileHash,
		IsCompressed: task.IsCompressed,
		EntryPoint:   task.EntryPoint,
		Params:       task.Params,
		Environment:  task.Environment,
	}
	queued.Signature = dispatchsig.Sign(s.signingKey, queued, dispatchSignatureTTL)
	payload, err := json.Marshal(queued)
	if err != nil {
		return fmt.Errorf("marshal queued task: %w", err)
	}

	namespace := readyStream(worker.ID)
	if _, err := s.queue.Enqueue(ctx, namespace, [][]byte{payload}, task.Priority); err != nil {
		return fmt.Errorf("enqueue queued task: %w", err)
	}

	run.DispatchStatus = types.DispatchDispatching
	run.DispatchAt = time.Now()
	if err := s.store.UpdateTaskRun(run); err != nil {
		s.logger.Warn().Err(err).Str("run_id", run.ID).Msg("failed to persist dispatching status")
	}

	timer.ObserveDuration(metrics.SchedulingLatency)
	metrics.TaskRunsScheduled.Inc()
	s.logger.Info().
		Str("run_id", run.ID).
		Str("task_id", task.ID).
		Str("worker_id", worker.ID).
		Msg("dispatched task run")
	return nil
}

func readyStream(workerID string) string { return "antcode:task:ready:" + workerID }

// selectWorker resolves a target Worker for task according to its
// DispatchStrategy: fixed binds to BoundWorkerID, any_capable picks the
// least-loaded worker satisfying Capabilities, prefer_bound_with_fallback
// tries BoundWorkerID first and falls back to any_capable.
func (s *Scheduler) selectWorker(task *types.Task, workers []*types.Worker) (*types.Worker, error) {
	switch task.Strategy {
	case types.DispatchFixed:
		w := findWorker(workers, task.BoundWorkerID)
		if w == nil {
			return nil, fmt.Errorf("bound worker %q is not online", task.BoundWorkerID)
		}
		return w, nil
	case types.DispatchPreferWithFallback:
		if w := findWorker(workers, task.BoundWorkerID); w != nil {
			return w, nil
		}
		return s.leastLoadedCapable(task, workers)
	default: // DispatchAnyCapable and unset
		return s.leastLoadedCapable(task, workers)
	}
}

func (s *Scheduler) leastLoadedCapable(task *types.Task, workers []*types.Worker) (*types.Worker, error) {
	var best *types.Worker
	for _, w := range workers {
		if !hasCapabilities(w, task.Capabilities) {
			continue
		}
		if w.RunningTasks >= w.MaxConcurrent && w.MaxConcurrent > 0 {
			continue
		}
		if best == nil || w.RunningTasks < best.RunningTasks {
			best = w
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no capable worker with spare capacity for task %q", task.ID)
	}
	return best, nil
}

func findWorker(workers []*types.Worker, id string) *types.Worker {
	if id == "" {
		return nil
	}
	for _, w := range workers {
		if w.ID == id {
			return w
		}
	}
	return nil
}

func hasCapabilities(w *types.Worker, required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(w.Capabilities))
	for _, c := range w.Capabilities {
		have[c] = true
	}
	for _, c := range required {
		if !have[c] {
			return false
		}
	}
	return true
}

func filterOnlineWorkers(workers []*types.Worker) []*types.Worker {
	var online []*types.Worker
	for _, w := range workers {
		if w.Status == types.WorkerOnline {
			online = append(online, w)
		}
	}
	return online
}
