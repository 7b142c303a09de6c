package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/executor"
	"github.com/antcode/antcode/pkg/fetch"
	"github.com/antcode/antcode/pkg/gatewayrpc"
	"github.com/antcode/antcode/pkg/log"
	"github.com/antcode/antcode/pkg/metrics"
	"github.com/antcode/antcode/pkg/plugin"
	"github.com/antcode/antcode/pkg/runtime"
)

// Config bounds an Engine's identity, concurrency budget and polling cadence.
type Config struct {
	WorkerID string
	Zone     string
	Version  string
	Labels   map[string]string

	MaxConcurrent   int
	PollBatchSize   int
	PollBlockMS     int
	PollInterval    time.Duration
	HeartbeatPeriod time.Duration
	ShutdownGrace   time.Duration

	// SigningKey verifies the HMAC dispatch signature on each polled
	// QueuedTask. Empty accepts only unsigned tasks.
	SigningKey []byte
	// DefaultPython is the interpreter version used when a task's Params
	// carries no python_version.
	DefaultPython string
}

// DefaultConfig mirrors the teacher's hardcoded 5s/3s ticker cadences as
// configurable defaults, and the executor's own default concurrency.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   5,
		PollBatchSize:   5,
		PollBlockMS:     5000,
		PollInterval:    3 * time.Second,
		HeartbeatPeriod: 5 * time.Second,
		ShutdownGrace:   10 * time.Second,
		DefaultPython:   "3.12",
	}
}

// RunState tracks one in-flight TaskRun the engine is currently servicing.
type RunState struct {
	RunID     string
	TaskID    string
	StartedAt time.Time
	Cancel    context.CancelFunc
}

// Engine is the Worker's composition root for task execution. It wires a
// gatewayrpc.Client (Direct or Gateway transport - the Engine doesn't know
// or care which), a runtime.Manager, an executor.Executor, a plugin.Registry
// and a fetch.Fetcher into the poll -> authenticate -> fetch -> prepare ->
// build -> execute -> report pipeline.
type Engine struct {
	cfg      Config
	client   gatewayrpc.Client
	runtimes *runtime.Manager
	exec     executor.Executor
	registry *plugin.Registry
	fetcher  *fetch.Fetcher
	logger   zerolog.Logger

	sem chan struct{}

	mu     sync.RWMutex
	runs   map[string]*RunState
	stopCh chan struct{}
	loopWG sync.WaitGroup
}

// NewEngine wires an Engine over its already-constructed dependencies.
func NewEngine(cfg Config, client gatewayrpc.Client, runtimes *runtime.Manager, exec executor.Executor, registry *plugin.Registry, fetcher *fetch.Fetcher) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.PollBatchSize <= 0 {
		cfg.PollBatchSize = cfg.MaxConcurrent
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = 5 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		client:   client,
		runtimes: runtimes,
		exec:     exec,
		registry: registry,
		fetcher:  fetcher,
		logger:   log.WithWorkerID(cfg.WorkerID),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		runs:     make(map[string]*RunState),
	}
}

// Start launches the runtime manager's GC loop, the executor, and the
// heartbeat/poll loops, running until ctx is done or Stop is called. Safe to
// call again after a prior Stop.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	e.exec.Start()
	e.runtimes.Start()

	e.loopWG.Add(2)
	go e.heartbeatLoop(ctx, stopCh)
	go e.pollLoop(ctx, stopCh)
}

// Stop halts the heartbeat and poll loops so no new task is accepted, then
// waits up to Config.ShutdownGrace for in-flight runs to finish on their
// own, cancelling any still running afterward - mirroring the teacher's
// "stop, wait, force" shutdown shape, generalized from single-container
// teardown to the whole in-flight run set.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
	e.mu.Unlock()
	e.loopWG.Wait()

	e.drain(e.cfg.ShutdownGrace)

	e.runtimes.Stop()
	e.exec.Stop(e.cfg.ShutdownGrace)
}

func (e *Engine) drain(grace time.Duration) {
	deadline := time.Now().Add(grace)
	for e.runningCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}

	e.mu.RLock()
	remaining := make([]*RunState, 0, len(e.runs))
	for _, rs := range e.runs {
		remaining = append(remaining, rs)
	}
	e.mu.RUnlock()

	for _, rs := range remaining {
		e.logger.Warn().Str("run_id", rs.RunID).Msg("shutdown grace expired, cancelling in-flight run")
		if rs.Cancel != nil {
			rs.Cancel()
		}
	}
}

func (e *Engine) runningCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.runs)
}

func (e *Engine) availableSlots() int {
	n := e.cfg.MaxConcurrent - e.runningCount()
	if n < 0 {
		return 0
	}
	return n
}

func (e *Engine) trackRun(rs *RunState) {
	e.mu.Lock()
	e.runs[rs.RunID] = rs
	e.mu.Unlock()
	metrics.WorkerRunningTasks.Set(float64(e.runningCount()))
}

func (e *Engine) untrackRun(runID string) {
	e.mu.Lock()
	delete(e.runs, runID)
	e.mu.Unlock()
	metrics.WorkerRunningTasks.Set(float64(e.runningCount()))
}

// CancelRun cancels a tracked run by its run ID, reporting whether one was
// found. Intended to be driven by a PollControl "cancel"/"kill" message.
func (e *Engine) CancelRun(runID string) bool {
	e.mu.RLock()
	rs, ok := e.runs[runID]
	e.mu.RUnlock()
	if ok && rs.Cancel != nil {
		rs.Cancel()
	}
	return e.exec.Cancel(runID) || ok
}

func (e *Engine) heartbeatLoop(ctx context.Context, stopCh chan struct{}) {
	defer e.loopWG.Done()
	ticker := time.NewTicker(e.cfg.HeartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.sendHeartbeat(); err != nil {
				e.logger.Warn().Err(err).Msg("heartbeat failed")
			}
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		}
	}
}

func (e *Engine) sendHeartbeat() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ttl := int((3 * e.cfg.HeartbeatPeriod) / time.Second)
	_, err := e.client.SendHeartbeat(ctx, &gatewayrpc.SendHeartbeatRequest{
		Heartbeat: gatewayrpc.HeartbeatMessage{
			WorkerID:    e.cfg.WorkerID,
			Zone:        e.cfg.Zone,
			Labels:      e.cfg.Labels,
			ActiveSlots: e.runningCount(),
			TotalSlots:  e.cfg.MaxConcurrent,
			TTLSeconds:  ttl,
			Version:     e.cfg.Version,
		},
	})
	return err
}

func (e *Engine) pollLoop(ctx context.Context, stopCh chan struct{}) {
	defer e.loopWG.Done()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.pollOnce(ctx)
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context) {
	available := e.availableSlots()
	if available <= 0 {
		return
	}
	max := available
	if e.cfg.PollBatchSize < max {
		max = e.cfg.PollBatchSize
	}

	pollCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.PollBlockMS)*time.Millisecond+5*time.Second)
	defer cancel()

	resp, err := e.client.PollTask(pollCtx, &gatewayrpc.PollTaskRequest{
		WorkerID: e.cfg.WorkerID,
		Max:      max,
		BlockMs:  int64(e.cfg.PollBlockMS),
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("poll for tasks failed")
		return
	}

	for _, task := range resp.Tasks {
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func(t gatewayrpc.Task) {
			defer func() { <-e.sem }()
			e.runTask(context.Background(), t)
		}(task)
	}
}
