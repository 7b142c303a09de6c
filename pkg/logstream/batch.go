package logstream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/log"
	"github.com/antcode/antcode/pkg/metrics"
)

// BatchConfig bounds a BatchSender's queue and flush cadence.
type BatchConfig struct {
	BatchSize            int
	BatchTimeout         time.Duration
	MaxQueueSize         int
	WarningThreshold     float64
	CriticalThreshold    float64
	MaxRetries           int
	RetryDelay           time.Duration
	MaxConcurrentBatches int
	DropOnCritical       bool
	DropPriority         DropPriority
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:            100,
		BatchTimeout:         time.Second,
		MaxQueueSize:         10_000,
		WarningThreshold:     0.7,
		CriticalThreshold:    0.9,
		MaxRetries:           3,
		RetryDelay:           500 * time.Millisecond,
		MaxConcurrentBatches: 3,
		DropOnCritical:       true,
		DropPriority:         DropOldest,
	}
}

// BatchSender queues log entries for a single run and flushes them to a
// Transport on a fixed interval, at most BatchSize entries per batch;
// accumulating BatchSize entries does not trigger a flush between ticks,
// generalizing the teacher's events.Broker buffered-channel-plus-loop shape
// into a single bounded queue with backpressure classification.
type BatchSender struct {
	runID     string
	transport Transport
	config    BatchConfig
	logger    zerolog.Logger

	onBackpressure func(BackpressureState)
	onBatchSent    func(count int, success bool)

	mu                sync.Mutex
	queue             []Entry
	backpressureState BackpressureState
	running           bool
	stopCh            chan struct{}
	wg                sync.WaitGroup
	sem               chan struct{}

	totalQueued, totalSent, totalFailed, totalDropped, batchesSent int64
}

func NewBatchSender(runID string, transport Transport, config BatchConfig) *BatchSender {
	return &BatchSender{
		runID:     runID,
		transport: transport,
		config:    config,
		logger:    log.WithComponent("logstream-batch"),
		sem:       make(chan struct{}, config.MaxConcurrentBatches),
	}
}

func (s *BatchSender) OnBackpressure(fn func(BackpressureState)) { s.onBackpressure = fn }
func (s *BatchSender) OnBatchSent(fn func(count int, success bool)) { s.onBatchSent = fn }

func (s *BatchSender) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.sendLoop(stopCh)
}

func (s *BatchSender) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.flushRemaining(ctx)
}

// Write enqueues entry, honoring the backpressure state machine: BLOCKED
// refuses everything, CRITICAL drops (unless DropOnCritical is false).
func (s *BatchSender) Write(ctx context.Context, entry Entry) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}

	state := s.classify(len(s.queue))
	s.transition(state)

	if state == BackpressureBlocked {
		s.totalDropped++
		s.mu.Unlock()
		return false
	}
	if state == BackpressureCritical && s.config.DropOnCritical {
		s.totalDropped++
		s.mu.Unlock()
		return false
	}

	s.queue = append(s.queue, entry)
	s.totalQueued++
	s.mu.Unlock()
	return true
}

func (s *BatchSender) Flush(ctx context.Context) {
	s.flushRemaining(ctx)
}

func (s *BatchSender) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Running:           s.running,
		QueueSize:         len(s.queue),
		MaxQueueSize:      s.config.MaxQueueSize,
		BackpressureState: s.backpressureState,
		TotalQueued:       s.totalQueued,
		TotalSent:         s.totalSent,
		TotalFailed:       s.totalFailed,
		TotalDropped:      s.totalDropped,
		BatchesSent:       s.batchesSent,
	}
}

func (s *BatchSender) classify(queueLen int) BackpressureState {
	if s.config.MaxQueueSize <= 0 {
		return BackpressureNormal
	}
	ratio := float64(queueLen) / float64(s.config.MaxQueueSize)
	switch {
	case ratio >= 1.0:
		return BackpressureBlocked
	case ratio >= s.config.CriticalThreshold:
		return BackpressureCritical
	case ratio >= s.config.WarningThreshold:
		return BackpressureWarning
	default:
		return BackpressureNormal
	}
}

// transition must be called with mu held.
func (s *BatchSender) transition(next BackpressureState) {
	if next == s.backpressureState {
		return
	}
	s.backpressureState = next
	metrics.LogBackpressureState.Set(float64(next))
	if s.onBackpressure != nil {
		s.onBackpressure(next)
	}
}

func (s *BatchSender) sendLoop(stopCh chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.BatchTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sendBatch(context.Background())
		case <-stopCh:
			return
		}
	}
}

func (s *BatchSender) sendBatch(ctx context.Context) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	n := len(s.queue)
	if n > s.config.BatchSize {
		n = s.config.BatchSize
	}
	batch := s.queue[:n]
	s.queue = s.queue[n:]
	s.mu.Unlock()

	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	success := s.sendWithRetry(ctx, batch)

	s.mu.Lock()
	if success {
		s.totalSent += int64(len(batch))
		s.batchesSent++
	} else {
		s.totalFailed += int64(len(batch))
	}
	s.mu.Unlock()

	if success {
		metrics.LogBatchesSent.Inc()
	}
	if s.onBatchSent != nil {
		s.onBatchSent(len(batch), success)
	}
}

func (s *BatchSender) sendWithRetry(ctx context.Context, batch []Entry) bool {
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		if err := s.transport.SendLogBatch(ctx, s.runID, batch); err == nil {
			return true
		}
		s.logger.Debug().Str("run_id", s.runID).Int("attempt", attempt+1).Msg("log batch send failed")
		if attempt < s.config.MaxRetries-1 {
			time.Sleep(s.config.RetryDelay)
		}
	}
	return false
}

func (s *BatchSender) flushRemaining(ctx context.Context) {
	for {
		s.mu.Lock()
		empty := len(s.queue) == 0
		s.mu.Unlock()
		if empty {
			return
		}
		s.sendBatch(ctx)
	}
}
