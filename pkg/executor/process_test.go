package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/antcode/antcode/pkg/types"
)

type collectingSink struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (s *collectingSink) Write(entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *collectingSink) Flush() error { return nil }

func (s *collectingSink) lines(stream string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.entries {
		if e.Stream == stream {
			out = append(out, e.Line)
		}
	}
	return out
}

func TestProcessExecutorRunSucceeds(t *testing.T) {
	exec := NewProcessExecutor(DefaultConfig())
	exec.Start()
	defer exec.Stop(0)

	sink := &collectingSink{}
	plan := ExecPlan{
		Command:      "/bin/echo",
		Args:         []string{"hello", "world"},
		TimeoutSeconds: 5,
		PluginName:   "run-1",
	}

	result, err := exec.Run(context.Background(), plan, RuntimeHandle{}, sink)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.RuntimeSuccess {
		t.Fatalf("expected success, got %s (%s)", result.Status, result.ErrorMessage)
	}
	if result.ExitCode == nil || *result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %+v", result.ExitCode)
	}

	lines := sink.lines("stdout")
	if len(lines) != 1 || lines[0] != "hello world" {
		t.Fatalf("unexpected stdout lines: %v", lines)
	}
}

func TestProcessExecutorNonZeroExitIsFailed(t *testing.T) {
	exec := NewProcessExecutor(DefaultConfig())
	exec.Start()
	defer exec.Stop(0)

	plan := ExecPlan{Command: "/bin/sh", Args: []string{"-c", "exit 3"}, TimeoutSeconds: 5, PluginName: "run-2"}
	result, err := exec.Run(context.Background(), plan, RuntimeHandle{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.RuntimeFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.ExitCode == nil || *result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %+v", result.ExitCode)
	}
}

func TestProcessExecutorTimeoutKillsProcess(t *testing.T) {
	exec := NewProcessExecutor(DefaultConfig())
	exec.Start()
	defer exec.Stop(0)

	plan := ExecPlan{
		Command:            "/bin/sh",
		Args:               []string{"-c", "sleep 5"},
		TimeoutSeconds:     1,
		GracePeriodSeconds: 1,
		PluginName:         "run-3",
	}
	start := time.Now()
	result, err := exec.Run(context.Background(), plan, RuntimeHandle{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.RuntimeTimeout {
		t.Fatalf("expected timeout status, got %s", result.Status)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatal("expected the run to be killed well before the sleep would have finished")
	}
}

func TestProcessExecutorCancel(t *testing.T) {
	exec := NewProcessExecutor(DefaultConfig())
	exec.Start()
	defer exec.Stop(0)

	plan := ExecPlan{Command: "/bin/sh", Args: []string{"-c", "sleep 10"}, TimeoutSeconds: 30, PluginName: "run-4"}

	resultCh := make(chan ExecResult, 1)
	go func() {
		result, _ := exec.Run(context.Background(), plan, RuntimeHandle{}, nil)
		resultCh <- result
	}()

	time.Sleep(100 * time.Millisecond)
	if !exec.Cancel("run-4") {
		t.Fatal("expected Cancel to find the running task")
	}

	select {
	case result := <-resultCh:
		if result.Status != types.RuntimeCancelled {
			t.Fatalf("expected cancelled, got %s", result.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled run did not finish in time")
	}
}

func TestProcessExecutorStatsTrackCompletions(t *testing.T) {
	exec := NewProcessExecutor(DefaultConfig())
	exec.Start()
	defer exec.Stop(0)

	plan := ExecPlan{Command: "/bin/echo", Args: []string{"ok"}, TimeoutSeconds: 5, PluginName: "run-5"}
	if _, err := exec.Run(context.Background(), plan, RuntimeHandle{}, nil); err != nil {
		t.Fatal(err)
	}

	stats := exec.Stats()
	if stats.Completed != 1 || stats.TotalExecutions != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
