package transport

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/antcode/antcode/pkg/gatewayrpc"
	"github.com/antcode/antcode/pkg/logstore"
	"github.com/antcode/antcode/pkg/progress"
	"github.com/antcode/antcode/pkg/queue"
)

func newDirectClient(t *testing.T) *DirectClient {
	t.Helper()
	return &DirectClient{
		Namespace: "antcode",
		Queue:     queue.NewMemoryQueue(),
		Control:   queue.NewMemoryQueue(),
		Progress:  progress.NewMemoryProgress(),
		Logs:      logstore.NewLocalLogStore(t.TempDir()),
	}
}

func TestDirectClientPollAndAckTask(t *testing.T) {
	d := newDirectClient(t)
	ctx := context.Background()

	task := gatewayrpc.Task{RunID: "run-1", TaskID: "task-1", ProjectType: "code"}
	payload, _ := json.Marshal(task)
	if _, err := d.Queue.Enqueue(ctx, d.readyStream("w-1"), [][]byte{payload}, 0); err != nil {
		t.Fatal(err)
	}

	resp, err := d.PollTask(ctx, &gatewayrpc.PollTaskRequest{WorkerID: "w-1", Max: 10, BlockMs: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].RunID != "run-1" {
		t.Fatalf("unexpected poll result: %+v", resp)
	}
	if resp.Tasks[0].Receipt == "" {
		t.Fatal("expected a non-empty receipt")
	}

	if _, err := d.AckTask(ctx, &gatewayrpc.AckTaskRequest{Receipt: resp.Tasks[0].Receipt, Accepted: true}); err != nil {
		t.Fatal(err)
	}
}

func TestDirectClientAckTaskRejectedRequeues(t *testing.T) {
	d := newDirectClient(t)
	ctx := context.Background()

	task := gatewayrpc.Task{RunID: "run-2"}
	payload, _ := json.Marshal(task)
	d.Queue.Enqueue(ctx, d.readyStream("w-2"), [][]byte{payload}, 0)

	resp, err := d.PollTask(ctx, &gatewayrpc.PollTaskRequest{WorkerID: "w-2", Max: 10})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.AckTask(ctx, &gatewayrpc.AckTaskRequest{Receipt: resp.Tasks[0].Receipt, Accepted: false, Reason: "busy"}); err != nil {
		t.Fatal(err)
	}

	again, err := d.PollTask(ctx, &gatewayrpc.PollTaskRequest{WorkerID: "w-2", Max: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Tasks) != 1 {
		t.Fatal("expected the rejected task to be requeued and re-pollable")
	}
}

func TestDirectClientReportResultEnqueuesToResultStream(t *testing.T) {
	d := newDirectClient(t)
	ctx := context.Background()

	_, err := d.ReportResult(ctx, &gatewayrpc.ReportResultRequest{Result: gatewayrpc.TaskResult{RunID: "run-3", Status: "success"}})
	if err != nil {
		t.Fatal(err)
	}
	stats, err := d.Queue.Stats(ctx, "antcode:task:result")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Pending != 1 {
		t.Fatalf("expected one pending result entry, got %d", stats.Pending)
	}
}

func TestDirectClientSendHeartbeatRegistersWorker(t *testing.T) {
	d := newDirectClient(t)
	ctx := context.Background()

	resp, err := d.SendHeartbeat(ctx, &gatewayrpc.SendHeartbeatRequest{
		Heartbeat: gatewayrpc.HeartbeatMessage{WorkerID: "w-3", ActiveSlots: 1, TotalSlots: 5, TTLSeconds: 30},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.AcceptedAt == 0 {
		t.Fatal("expected a non-zero AcceptedAt")
	}
	active, err := d.Progress.ActiveWorkers(ctx, "heartbeat", "active")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, w := range active {
		if w == "w-3" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected w-3 to be registered as an active worker")
	}
}

func TestDirectClientSendLogAndLogChunk(t *testing.T) {
	d := newDirectClient(t)
	ctx := context.Background()

	if _, err := d.SendLog(ctx, &gatewayrpc.SendLogRequest{Entry: gatewayrpc.LogEntry{RunID: "run-4", Sequence: 1, Stream: "stdout", Data: "hello"}}); err != nil {
		t.Fatal(err)
	}

	data := []byte("chunk-data")
	resp, err := d.SendLogChunk(ctx, &gatewayrpc.SendLogChunkRequest{Chunk: gatewayrpc.LogChunk{
		RunID: "run-4", ChunkType: "stdout", Data: data, Offset: 0, IsFinal: true, Total: int64(len(data)),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.NextOffset != int64(len(data)) {
		t.Fatalf("expected NextOffset=%d, got %d", len(data), resp.NextOffset)
	}
}

func TestDirectClientRegisterWorkerUnsupported(t *testing.T) {
	d := newDirectClient(t)
	if _, err := d.RegisterWorker(context.Background(), &gatewayrpc.RegisterWorkerRequest{}); err == nil {
		t.Fatal("expected RegisterWorker to be rejected in Direct mode")
	}
}

func TestDirectClientHealthCheck(t *testing.T) {
	d := newDirectClient(t)
	resp, err := d.HealthCheck(context.Background(), &gatewayrpc.HealthCheckRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected ok, got %q", resp.Status)
	}
}

func TestSplitReceiptRoundTrips(t *testing.T) {
	r := receiptFor("antcode:task:ready:w-1", "1-0")
	namespace, msgID, err := splitReceipt(r)
	if err != nil {
		t.Fatal(err)
	}
	if namespace != "antcode:task:ready:w-1" || msgID != "1-0" {
		t.Fatalf("unexpected split: namespace=%q msgID=%q", namespace, msgID)
	}
}

func TestSplitReceiptRejectsMalformed(t *testing.T) {
	if _, _, err := splitReceipt("no-pipe-here"); err == nil {
		t.Fatal("expected an error for a receipt without a namespace separator")
	}
}
