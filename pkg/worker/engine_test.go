package worker

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/antcode/antcode/pkg/executor"
	"github.com/antcode/antcode/pkg/fetch"
	"github.com/antcode/antcode/pkg/gatewayrpc"
	"github.com/antcode/antcode/pkg/plugin"
	"github.com/antcode/antcode/pkg/runtime"
)

// fakeClient is a hand-written gatewayrpc.Client double: each method records
// its call and, for PollTask, drains a queue of canned tasks once, so a test
// can assert the Engine polled, acked, reported, and heartbeat exactly as
// expected without a real Gateway or Redis Streams connection.
type fakeClient struct {
	mu sync.Mutex

	pending []gatewayrpc.Task

	acks        []gatewayrpc.AckTaskRequest
	results     []gatewayrpc.TaskResult
	heartbeats  []gatewayrpc.HeartbeatMessage
	logBatches  [][]gatewayrpc.LogEntry
}

func (f *fakeClient) PollTask(_ context.Context, req *gatewayrpc.PollTaskRequest) (*gatewayrpc.PollTaskResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := req.Max
	if n > len(f.pending) {
		n = len(f.pending)
	}
	tasks := f.pending[:n]
	f.pending = f.pending[n:]
	return &gatewayrpc.PollTaskResponse{Tasks: tasks}, nil
}

func (f *fakeClient) AckTask(_ context.Context, req *gatewayrpc.AckTaskRequest) (*gatewayrpc.AckTaskResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, *req)
	return &gatewayrpc.AckTaskResponse{}, nil
}

func (f *fakeClient) ReportResult(_ context.Context, req *gatewayrpc.ReportResultRequest) (*gatewayrpc.ReportResultResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, req.Result)
	return &gatewayrpc.ReportResultResponse{}, nil
}

func (f *fakeClient) SendHeartbeat(_ context.Context, req *gatewayrpc.SendHeartbeatRequest) (*gatewayrpc.SendHeartbeatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, req.Heartbeat)
	return &gatewayrpc.SendHeartbeatResponse{AcceptedAt: time.Now().Unix()}, nil
}

func (f *fakeClient) SendLog(context.Context, *gatewayrpc.SendLogRequest) (*gatewayrpc.SendLogResponse, error) {
	return &gatewayrpc.SendLogResponse{}, nil
}

func (f *fakeClient) SendLogBatch(_ context.Context, req *gatewayrpc.SendLogBatchRequest) (*gatewayrpc.SendLogBatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logBatches = append(f.logBatches, req.Entries)
	return &gatewayrpc.SendLogBatchResponse{Accepted: len(req.Entries)}, nil
}

func (f *fakeClient) SendLogChunk(context.Context, *gatewayrpc.SendLogChunkRequest) (*gatewayrpc.SendLogChunkResponse, error) {
	return &gatewayrpc.SendLogChunkResponse{}, nil
}

func (f *fakeClient) PollControl(context.Context, *gatewayrpc.PollControlRequest) (*gatewayrpc.PollControlResponse, error) {
	return &gatewayrpc.PollControlResponse{}, nil
}

func (f *fakeClient) AckControl(context.Context, *gatewayrpc.AckControlRequest) (*gatewayrpc.AckControlResponse, error) {
	return &gatewayrpc.AckControlResponse{}, nil
}

func (f *fakeClient) SendControlResult(context.Context, *gatewayrpc.SendControlResultRequest) (*gatewayrpc.SendControlResultResponse, error) {
	return &gatewayrpc.SendControlResultResponse{}, nil
}

func (f *fakeClient) RegisterWorker(context.Context, *gatewayrpc.RegisterWorkerRequest) (*gatewayrpc.RegisterWorkerResponse, error) {
	return &gatewayrpc.RegisterWorkerResponse{}, nil
}

func (f *fakeClient) HealthCheck(context.Context, *gatewayrpc.HealthCheckRequest) (*gatewayrpc.HealthCheckResponse, error) {
	return &gatewayrpc.HealthCheckResponse{}, nil
}

func (f *fakeClient) snapshot() (acks []gatewayrpc.AckTaskRequest, results []gatewayrpc.TaskResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gatewayrpc.AckTaskRequest(nil), f.acks...), append([]gatewayrpc.TaskResult(nil), f.results...)
}

// preCreateVenv pre-seeds a cached venv directory so runtime.Manager.Prepare
// short-circuits without invoking the real uv binary; its bin/python links to
// the host's python3 when one is on PATH.
func preCreateVenv(t *testing.T, venvsDir, runtimeHash string) {
	t.Helper()
	dir := filepath.Join(venvsDir, runtimeHash, "bin")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if py, err := exec.LookPath("python3"); err == nil {
		_ = os.Symlink(py, filepath.Join(dir, "python"))
	}
}

func newTestEngine(t *testing.T, client *fakeClient) *Engine {
	t.Helper()

	venvsDir := t.TempDir()
	spec := specForTask(gatewayrpc.Task{}, "3.12")
	preCreateVenv(t, venvsDir, spec.Hash())

	mgr, err := runtime.NewManager(runtime.ManagerConfig{VenvsDir: venvsDir, BuildTimeout: time.Minute})
	if err != nil {
		t.Fatal(err)
	}

	cache, err := fetch.NewCache(t.TempDir(), 100, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.WorkerID = "worker-test"
	cfg.MaxConcurrent = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatPeriod = 10 * time.Millisecond

	return NewEngine(cfg, client, mgr, executor.NewProcessExecutor(executor.DefaultConfig()), plugin.NewDefaultRegistry(), fetch.NewFetcher(cache))
}

func sourceFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "main.py")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func taskFor(runID, sourcePath string) gatewayrpc.Task {
	return gatewayrpc.Task{
		Receipt:     "receipt-" + runID,
		RunID:       runID,
		TaskID:      "task-" + runID,
		ProjectID:   "proj-1",
		ProjectType: "code",
		Timeout:     5 * time.Second,
		DownloadURL: "file://" + sourcePath,
		EntryPoint:  "main.py",
	}
}

func TestEngineAvailableSlotsAndTracking(t *testing.T) {
	e := newTestEngine(t, &fakeClient{})
	if got := e.availableSlots(); got != e.cfg.MaxConcurrent {
		t.Fatalf("expected %d available slots, got %d", e.cfg.MaxConcurrent, got)
	}

	cancel := func() {}
	e.trackRun(&RunState{RunID: "run-1", Cancel: cancel})
	if got := e.runningCount(); got != 1 {
		t.Fatalf("expected 1 running, got %d", got)
	}
	if got := e.availableSlots(); got != e.cfg.MaxConcurrent-1 {
		t.Fatalf("expected %d available slots, got %d", e.cfg.MaxConcurrent-1, got)
	}

	e.untrackRun("run-1")
	if got := e.runningCount(); got != 0 {
		t.Fatalf("expected 0 running after untrack, got %d", got)
	}
}

func TestEngineCancelRunCancelsContext(t *testing.T) {
	e := newTestEngine(t, &fakeClient{})
	cancelled := false
	e.trackRun(&RunState{RunID: "run-1", Cancel: func() { cancelled = true }})

	if !e.CancelRun("run-1") {
		t.Fatal("expected CancelRun to find the tracked run")
	}
	if !cancelled {
		t.Fatal("expected CancelRun to invoke the stored cancel func")
	}
	if e.CancelRun("missing") {
		t.Fatal("expected CancelRun to report false for an unknown run id")
	}
}

func TestEngineStartStopDrainsCleanly(t *testing.T) {
	client := &fakeClient{}
	e := newTestEngine(t, client)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	e.Stop()

	client.mu.Lock()
	recorded := len(client.heartbeats)
	client.mu.Unlock()
	if recorded == 0 {
		t.Fatal("expected at least one heartbeat to have been recorded before Stop")
	}
}

func TestEnginePollOnceRunsAndReportsTask(t *testing.T) {
	src := sourceFile(t, "print('hello from task')\n")
	client := &fakeClient{pending: []gatewayrpc.Task{taskFor("run-ok", src)}}
	e := newTestEngine(t, client)

	e.pollOnce(context.Background())
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, results := client.snapshot()
		if len(results) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for task result to be reported")
		}
		time.Sleep(10 * time.Millisecond)
	}

	acks, results := client.snapshot()
	if len(acks) != 1 || !acks[0].Accepted {
		t.Fatalf("expected one accepting ack, got %+v", acks)
	}
	if results[0].Status != "success" {
		t.Fatalf("expected success status, got %+v", results[0])
	}
	if results[0].RunID != "run-ok" {
		t.Fatalf("unexpected run id in result: %+v", results[0])
	}
}

func TestEnginePollOnceRejectsUnsignedTaskWhenKeyConfigured(t *testing.T) {
	src := sourceFile(t, "print('should not run')\n")
	client := &fakeClient{pending: []gatewayrpc.Task{taskFor("run-rejected", src)}}
	e := newTestEngine(t, client)
	e.cfg.SigningKey = []byte("secret")

	e.pollOnce(context.Background())
	deadline := time.Now().Add(time.Second)
	for {
		acks, _ := client.snapshot()
		if len(acks) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for ack")
		}
		time.Sleep(10 * time.Millisecond)
	}

	acks, results := client.snapshot()
	if acks[0].Accepted {
		t.Fatal("expected the unsigned task to be rejected once a signing key is configured")
	}
	if len(results) != 0 {
		t.Fatalf("a rejected-at-authentication task must never report a result, got %+v", results)
	}
}

func TestEnginePollOnceRespectsAvailableSlots(t *testing.T) {
	client := &fakeClient{pending: []gatewayrpc.Task{
		taskFor("run-1", sourceFile(t, "pass\n")),
		taskFor("run-2", sourceFile(t, "pass\n")),
		taskFor("run-3", sourceFile(t, "pass\n")),
	}}
	e := newTestEngine(t, client)
	e.trackRun(&RunState{RunID: "occupying", Cancel: func() {}})
	defer e.untrackRun("occupying")

	e.pollOnce(context.Background())

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.pending) != 2 {
		t.Fatalf("expected poll to request only the one free slot, %d tasks left unpolled", len(client.pending))
	}
}

func TestHeartbeatTTLIsThreeHeartbeatPeriods(t *testing.T) {
	client := &fakeClient{}
	e := newTestEngine(t, client)
	if err := e.sendHeartbeat(); err != nil {
		t.Fatal(err)
	}
	if len(client.heartbeats) != 1 {
		t.Fatalf("expected one heartbeat sent, got %d", len(client.heartbeats))
	}
	want := int(3 * e.cfg.HeartbeatPeriod / time.Second)
	if got := client.heartbeats[0].TTLSeconds; got != want {
		t.Fatalf("expected ttl %d, got %d", want, got)
	}
}
