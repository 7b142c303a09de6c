package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/antcode/antcode/pkg/metrics"
)

// CompensationHandler runs when a TaskRun has exhausted its retries for
// taskType. errMsg is the failure that triggered compensation.
type CompensationHandler func(ctx context.Context, item DueItem, errMsg string) error

// Coordinator ties retry eligibility, the due-queue, and compensation
// handlers together: Handle decides, per failure, whether to schedule
// another attempt or run compensation and give up.
type Coordinator struct {
	queue    *Queue
	configs  func(taskID string) Config // per-Task config lookup
	mu       sync.RWMutex
	handlers map[CompensationType]CompensationHandler
}

func NewCoordinator(queue *Queue, configs func(taskID string) Config) *Coordinator {
	return &Coordinator{
		queue:    queue,
		configs:  configs,
		handlers: make(map[CompensationType]CompensationHandler),
	}
}

func (c *Coordinator) RegisterHandler(t CompensationType, handler CompensationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = handler
}

// Handle schedules a retry for item if its Task's config allows it, or runs
// compensation (compensationType) otherwise. Returns true if a retry was
// scheduled, false if compensation ran instead.
func (c *Coordinator) Handle(ctx context.Context, item DueItem, errMsg string, compensationType CompensationType) (bool, error) {
	cfg := c.configs(item.TaskID)
	if cfg.ShouldRetry(errMsg, item.RetryCount) {
		delay := cfg.Delay(item.RetryCount)
		next := item
		next.RetryCount = item.RetryCount + 1
		next.DueAt = time.Now().Add(delay)
		if err := c.queue.Schedule(ctx, next); err != nil {
			return false, fmt.Errorf("retry: schedule: %w", err)
		}
		return true, nil
	}

	c.mu.RLock()
	handler, ok := c.handlers[compensationType]
	c.mu.RUnlock()
	if ok {
		if err := handler(ctx, item, errMsg); err != nil {
			return false, fmt.Errorf("retry: compensation %s failed: %w", compensationType, err)
		}
	}
	metrics.CompensationsTotal.WithLabelValues(compensationType.String()).Inc()
	return false, nil
}
