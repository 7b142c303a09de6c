package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/log"
	"github.com/antcode/antcode/pkg/metrics"
	"github.com/antcode/antcode/pkg/store"
	"github.com/antcode/antcode/pkg/types"
)

// Config bounds the reconciler's four concerns.
type Config struct {
	HeartbeatTimeout    time.Duration // Worker considered offline past this age (default 30s)
	DispatchTimeout     time.Duration // TaskRun considered timed out in dispatch past this age (default 30s)
	DefaultRunTimeout   time.Duration // used when Task.Timeout is zero
	TerminalGracePeriod time.Duration // how long a terminal TaskRun is kept before deletion (default 5m)
}

// DefaultConfig returns the teacher's original cadences, generalized to the
// Task/TaskRun domain.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout:    30 * time.Second,
		DispatchTimeout:     30 * time.Second,
		DefaultRunTimeout:   10 * time.Minute,
		TerminalGracePeriod: 5 * time.Minute,
	}
}

// Reconciler ensures actual TaskRun/Worker state matches desired state:
// Worker heartbeat ageout, timeout detection, failed-Worker handling, and
// zombie cleanup (deletion of terminal TaskRuns past a grace period). It has
// no separate pass repairing running TaskRuns that already carry an EndTime.
type Reconciler struct {
	store  store.Store
	cfg    Config
	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
}

// NewReconciler creates a Reconciler over st using cfg.
func NewReconciler(st store.Store, cfg Config) *Reconciler {
	return &Reconciler{
		store:  st,
		cfg:    cfg,
		logger: log.WithComponent("reconciler"),
	}
}

// Start begins the reconciliation loop on tickInterval. Safe to call again
// after a prior Stop, so a Master can restart the loop across leadership
// terms.
func (r *Reconciler) Start(tickInterval time.Duration) {
	r.mu.Lock()
	r.stopCh = make(chan struct{})
	stopCh := r.stopCh
	r.mu.Unlock()
	go r.run(tickInterval, stopCh)
}

// Stop halts the reconciliation loop.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		close(r.stopCh)
		r.stopCh = nil
	}
}

func (r *Reconciler) run(tickInterval time.Duration, stopCh chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")
	for {
		select {
		case <-ticker.C:
			if err := r.Reconcile(); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// Reconcile performs one reconciliation cycle: the four bounded concerns
// run in a fixed order, each tolerant of the others' failures.
func (r *Reconciler) Reconcile() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.reconcileWorkerHeartbeats(); err != nil {
		r.logger.Error().Err(err).Msg("failed to reconcile worker heartbeats")
	}
	if err := r.reconcileTimeouts(); err != nil {
		r.logger.Error().Err(err).Msg("failed to reconcile task run timeouts")
	}
	if err := r.reconcileFailedWorkerRuns(); err != nil {
		r.logger.Error().Err(err).Msg("failed to reconcile runs on failed workers")
	}
	if err := r.reconcileZombies(); err != nil {
		r.logger.Error().Err(err).Msg("failed to clean up terminal task runs")
	}
	return nil
}

// reconcileWorkerHeartbeats marks Workers offline once their heartbeat has
// aged past HeartbeatTimeout.
func (r *Reconciler) reconcileWorkerHeartbeats() error {
	workers, err := r.store.ListWorkers()
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}

	now := time.Now()
	for _, w := range workers {
		if w.Status == types.WorkerOffline {
			continue
		}
		if now.Sub(w.LastHeartbeat) > r.cfg.HeartbeatTimeout {
			r.logger.Warn().
				Str("worker_id", w.ID).
				Dur("no_heartbeat_duration", now.Sub(w.LastHeartbeat)).
				Msg("worker heartbeat expired, marking offline")
			w.Status = types.WorkerOffline
			if err := r.store.UpdateWorker(w); err != nil {
				r.logger.Error().Err(err).Str("worker_id", w.ID).Msg("failed to mark worker offline")
			}
		}
	}
	return nil
}

// reconcileTimeouts detects TaskRuns stuck in dispatch or running past their
// allotted time and terminates them, applying the (order(status), timestamp)
// monotonic transition guard via ApplyDispatch/ApplyRuntime.
func (r *Reconciler) reconcileTimeouts() error {
	now := time.Now()

	dispatching, err := r.store.ListTaskRunsByRuntimeStatus(types.RuntimeQueued)
	if err != nil {
		return fmt.Errorf("list queued task runs: %w", err)
	}
	for _, run := range dispatching {
		if run.DispatchStatus == types.DispatchPending || run.DispatchStatus == types.DispatchDispatching {
			if now.Sub(run.DispatchAt) > r.cfg.DispatchTimeout {
				r.markTimedOut(run, "dispatch timed out")
			}
		}
	}

	running, err := r.store.ListTaskRunsByRuntimeStatus(types.RuntimeRunning)
	if err != nil {
		return fmt.Errorf("list running task runs: %w", err)
	}
	for _, run := range running {
		limit := r.cfg.DefaultRunTimeout
		if task, err := r.store.GetTask(run.TaskID); err == nil && task.Timeout > 0 {
			limit = task.Timeout
		}
		if now.Sub(run.StartTime) > limit {
			r.markTimedOut(run, "execution timed out")
		}
	}
	return nil
}

func (r *Reconciler) markTimedOut(run *types.TaskRun, reason string) {
	if !run.ApplyRuntime(types.RuntimeTimeout, time.Now()) {
		return
	}
	run.Error = reason
	if err := r.store.UpdateTaskRun(run); err != nil {
		r.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to mark task run timed out")
		return
	}
	r.logger.Info().Str("run_id", run.ID).Str("reason", reason).Msg("task run timed out")
}

// reconcileFailedWorkerRuns terminates non-terminal TaskRuns assigned to
// Workers that have gone offline, so the scheduler sees capacity free up and
// the retry loop sees a terminal failure to act on.
func (r *Reconciler) reconcileFailedWorkerRuns() error {
	workers, err := r.store.ListWorkers()
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	offline := make(map[string]bool)
	for _, w := range workers {
		if w.Status == types.WorkerOffline {
			offline[w.ID] = true
		}
	}
	if len(offline) == 0 {
		return nil
	}

	runs, err := r.store.ListTaskRuns()
	if err != nil {
		return fmt.Errorf("list task runs: %w", err)
	}
	now := time.Now()
	for _, run := range runs {
		if run.RuntimeStatus.Terminal() || !offline[run.WorkerID] {
			continue
		}
		if !run.ApplyRuntime(types.RuntimeFailed, now) {
			continue
		}
		run.Error = fmt.Sprintf("worker %s went offline", run.WorkerID)
		if err := r.store.UpdateTaskRun(run); err != nil {
			r.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to fail run on offline worker")
			continue
		}
		r.logger.Info().Str("run_id", run.ID).Str("worker_id", run.WorkerID).Msg("failed task run on offline worker")
	}
	return nil
}

// reconcileZombies deletes terminal TaskRuns past TerminalGracePeriod, so the
// store doesn't grow unbounded with history that has already been reported.
func (r *Reconciler) reconcileZombies() error {
	runs, err := r.store.ListTaskRuns()
	if err != nil {
		return fmt.Errorf("list task runs: %w", err)
	}
	for _, run := range runs {
		if !run.RuntimeStatus.Terminal() || run.EndTime.IsZero() {
			continue
		}
		if time.Since(run.EndTime) > r.cfg.TerminalGracePeriod {
			if err := r.store.DeleteTaskRun(run.ID); err != nil {
				r.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to delete terminal task run")
				continue
			}
			r.logger.Debug().Str("run_id", run.ID).Msg("deleted terminal task run past grace period")
		}
	}
	return nil
}
