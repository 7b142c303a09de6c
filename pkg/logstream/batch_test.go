package logstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTransport struct {
	mu      sync.Mutex
	batches [][]Entry
	fail    bool
}

func (t *fakeTransport) SendLogBatch(ctx context.Context, runID string, entries []Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return errors.New("transport unavailable")
	}
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	t.batches = append(t.batches, cp)
	return nil
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.batches {
		n += len(b)
	}
	return n
}

func TestBatchSenderFlushesOnInterval(t *testing.T) {
	transport := &fakeTransport{}
	cfg := DefaultBatchConfig()
	cfg.BatchTimeout = 20 * time.Millisecond
	sender := NewBatchSender("run-1", transport, cfg)
	sender.Start()
	defer sender.Stop(context.Background())

	for i := 0; i < 5; i++ {
		if !sender.Write(context.Background(), Entry{RunID: "run-1", Content: "line"}) {
			t.Fatal("expected write to succeed under normal load")
		}
	}

	time.Sleep(100 * time.Millisecond)
	if transport.count() != 5 {
		t.Fatalf("expected all 5 entries flushed, got %d", transport.count())
	}
}

func TestBatchSenderStopFlushesRemaining(t *testing.T) {
	transport := &fakeTransport{}
	cfg := DefaultBatchConfig()
	cfg.BatchTimeout = time.Hour // never fires on its own
	sender := NewBatchSender("run-2", transport, cfg)
	sender.Start()

	sender.Write(context.Background(), Entry{RunID: "run-2", Content: "a"})
	sender.Write(context.Background(), Entry{RunID: "run-2", Content: "b"})

	sender.Stop(context.Background())
	if transport.count() != 2 {
		t.Fatalf("expected Stop to flush remaining entries, got %d", transport.count())
	}
}

func TestBatchSenderBackpressureBlocksAtCapacity(t *testing.T) {
	transport := &fakeTransport{}
	cfg := DefaultBatchConfig()
	cfg.BatchTimeout = time.Hour
	cfg.MaxQueueSize = 4
	cfg.WarningThreshold = 0.5
	cfg.CriticalThreshold = 0.75
	cfg.DropOnCritical = true
	sender := NewBatchSender("run-3", transport, cfg)
	sender.Start()
	defer sender.Stop(context.Background())

	var blockedSeen bool
	for i := 0; i < 10; i++ {
		ok := sender.Write(context.Background(), Entry{RunID: "run-3", Content: "x"})
		if !ok {
			blockedSeen = true
		}
	}
	if !blockedSeen {
		t.Fatal("expected some writes to be refused once the queue saturates")
	}

	stats := sender.Stats()
	if stats.TotalDropped == 0 {
		t.Fatal("expected TotalDropped to reflect refused writes")
	}
}

func TestBatchSenderRetriesOnTransportFailure(t *testing.T) {
	transport := &fakeTransport{fail: true}
	cfg := DefaultBatchConfig()
	cfg.BatchTimeout = time.Hour
	cfg.MaxRetries = 2
	cfg.RetryDelay = 5 * time.Millisecond
	sender := NewBatchSender("run-4", transport, cfg)
	sender.Start()

	sender.Write(context.Background(), Entry{RunID: "run-4", Content: "x"})
	sender.Stop(context.Background())

	stats := sender.Stats()
	if stats.TotalFailed != 1 {
		t.Fatalf("expected the entry to be counted as failed after exhausting retries, got %+v", stats)
	}
}

func TestBatchSenderOnBackpressureCallbackFires(t *testing.T) {
	transport := &fakeTransport{}
	cfg := DefaultBatchConfig()
	cfg.BatchTimeout = time.Hour
	cfg.MaxQueueSize = 2
	cfg.WarningThreshold = 0.4
	cfg.CriticalThreshold = 0.9
	sender := NewBatchSender("run-5", transport, cfg)

	var seen []BackpressureState
	sender.OnBackpressure(func(s BackpressureState) { seen = append(seen, s) })
	sender.Start()
	defer sender.Stop(context.Background())

	// The first write is classified against an empty queue (still NORMAL);
	// the second is classified against a queue of 1 out of MaxQueueSize 2,
	// crossing the 0.4 warning threshold and triggering a transition.
	sender.Write(context.Background(), Entry{RunID: "run-5"})
	sender.Write(context.Background(), Entry{RunID: "run-5"})
	if len(seen) == 0 {
		t.Fatal("expected at least one backpressure transition once above the warning threshold")
	}
}
