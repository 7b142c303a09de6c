package retry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/log"
	"github.com/antcode/antcode/pkg/metrics"
)

// Dispatcher re-triggers scheduling for a TaskRun whose retry became due.
type Dispatcher func(ctx context.Context, item DueItem) error

// Loop polls the due-queue on a ticker and hands every due item to Dispatch.
type Loop struct {
	queue    *Queue
	dispatch Dispatcher
	interval time.Duration
	batch    int64
	logger   zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

func NewLoop(queue *Queue, dispatch Dispatcher, interval time.Duration) *Loop {
	return &Loop{
		queue:    queue,
		dispatch: dispatch,
		interval: interval,
		batch:    50,
		logger:   log.WithComponent("retry"),
	}
}

func (l *Loop) Start() {
	l.mu.Lock()
	l.stopCh = make(chan struct{})
	stopCh := l.stopCh
	l.mu.Unlock()
	go l.run(stopCh)
}

func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopCh != nil {
		close(l.stopCh)
		l.stopCh = nil
	}
}

func (l *Loop) run(stopCh chan struct{}) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := l.tick(); err != nil {
				l.logger.Error().Err(err).Msg("retry tick failed")
			}
		case <-stopCh:
			return
		}
	}
}

func (l *Loop) tick() error {
	ctx := context.Background()
	items, err := l.queue.PopDue(ctx, time.Now(), l.batch)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := l.dispatch(ctx, item); err != nil {
			l.logger.Error().Err(err).Str("task_id", item.TaskID).Str("run_id", item.RunID).
				Msg("retry dispatch failed")
			continue
		}
		metrics.RetriesScheduled.Inc()
		l.logger.Info().Str("task_id", item.TaskID).Str("run_id", item.RunID).
			Int("retry_count", item.RetryCount).Msg("retry dispatched")
	}
	return nil
}
