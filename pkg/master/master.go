// Package master is the Master role's composition root: it campaigns for
// leadership and, for as long as it holds the current term, runs the
// scheduler, reconciler, and retry loops. At most one Master instance in
// the cluster is ever actively dispatching.
package master

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/config"
	"github.com/antcode/antcode/pkg/election"
	"github.com/antcode/antcode/pkg/log"
	"github.com/antcode/antcode/pkg/queue"
	"github.com/antcode/antcode/pkg/reconciler"
	"github.com/antcode/antcode/pkg/retry"
	"github.com/antcode/antcode/pkg/scheduler"
	"github.com/antcode/antcode/pkg/store"
)

// Master holds the long-lived subsystem handles for the Master role:
// the elector that gates everything else, and the backing store/queue/retry
// queue shared across terms.
type Master struct {
	cfg       *config.MasterConfig
	store     store.Store
	elector   *election.Elector
	retryQ    *retry.Queue
	logger    zerolog.Logger
	sched     *scheduler.Scheduler
	reconc    *reconciler.Reconciler
	retryLoop *retry.Loop
}

// New wires a Master over an already-open store and Redis client.
func New(cfg *config.MasterConfig, st store.Store, rdb *redis.Client, q queue.Queue) *Master {
	elector := election.NewElector(rdb, fmt.Sprintf("%s:lock:%s", cfg.RedisNamespace, cfg.LockKey), cfg.LockTTL)
	retryQ := retry.NewQueue(rdb, cfg.RedisNamespace)

	sched := scheduler.NewScheduler(st, q)
	if cfg.DispatchSigningKey != "" {
		sched.SetSigningKey([]byte(cfg.DispatchSigningKey))
	}

	m := &Master{
		cfg:     cfg,
		store:   st,
		elector: elector,
		retryQ:  retryQ,
		logger:  log.WithComponent("master"),
		sched:   sched,
		reconc: reconciler.NewReconciler(st, reconciler.Config{
			HeartbeatTimeout:    cfg.HeartbeatOffline,
			DispatchTimeout:     cfg.ScheduleInterval * 6,
			DefaultRunTimeout:   cfg.TaskTimeoutCap,
			TerminalGracePeriod: cfg.ZombiePendingAge,
		}),
	}
	m.retryLoop = retry.NewLoop(retryQ, m.dispatchRetry, cfg.RetryInterval)
	return m
}

// Run campaigns for leadership and, on each successful acquisition, starts
// the scheduler/reconciler/retry loops for the duration of the term,
// stopping them when the term context is cancelled (stepdown or ctx
// cancellation) and immediately re-campaigning. Run blocks until ctx is
// cancelled.
func (m *Master) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		term, termCtx, err := m.elector.Campaign(ctx, 2*time.Second)
		if err != nil {
			return fmt.Errorf("master: campaign: %w", err)
		}
		m.logger.Info().Uint64("fencing_token", term.Token).Msg("entering leadership term")

		m.sched.Start(termCtx, m.cfg.ScheduleInterval)
		m.reconc.Start(m.cfg.ReconcileInterval)
		m.retryLoop.Start()

		<-termCtx.Done()

		m.sched.Stop()
		m.reconc.Stop()
		m.retryLoop.Stop()
		m.logger.Warn().Uint64("fencing_token", term.Token).Msg("leadership term ended")

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// dispatchRetry re-triggers scheduling for a TaskRun whose retry became due
// by pulling its Task's next run time forward to now, so the scheduler picks
// it up on its next tick.
func (m *Master) dispatchRetry(ctx context.Context, item retry.DueItem) error {
	task, err := m.store.GetTask(item.TaskID)
	if err != nil {
		return fmt.Errorf("master: retry dispatch: get task: %w", err)
	}
	task.NextRunTime = time.Now()
	return m.store.UpdateTask(task)
}
