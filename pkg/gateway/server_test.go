package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/antcode/antcode/pkg/gatewayrpc"
	"github.com/antcode/antcode/pkg/identity"
	"github.com/antcode/antcode/pkg/logstore"
	"github.com/antcode/antcode/pkg/progress"
	"github.com/antcode/antcode/pkg/queue"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return &Server{
		Namespace: "antcode",
		Queue:     queue.NewMemoryQueue(),
		Control:   queue.NewMemoryQueue(),
		Progress:  progress.NewMemoryProgress(),
		Logs:      logstore.NewLocalLogStore(t.TempDir()),
	}
}

func TestServerPollAndAckTask(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	task := gatewayrpc.Task{RunID: "run-1", TaskID: "task-1"}
	payload, _ := json.Marshal(task)
	if _, err := s.Queue.Enqueue(ctx, s.readyStream("w-1"), [][]byte{payload}, 0); err != nil {
		t.Fatal(err)
	}

	resp, err := s.PollTask(ctx, &gatewayrpc.PollTaskRequest{WorkerID: "w-1", Max: 10, BlockMs: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].RunID != "run-1" {
		t.Fatalf("unexpected poll result: %+v", resp)
	}

	if _, err := s.AckTask(ctx, &gatewayrpc.AckTaskRequest{Receipt: resp.Tasks[0].Receipt, Accepted: true}); err != nil {
		t.Fatal(err)
	}
}

func TestServerAckTaskMalformedReceipt(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.AckTask(context.Background(), &gatewayrpc.AckTaskRequest{Receipt: "no-separator", Accepted: true}); err == nil {
		t.Fatal("expected an error for a malformed receipt")
	}
}

func TestServerReportResultEnqueuesResult(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	if _, err := s.ReportResult(ctx, &gatewayrpc.ReportResultRequest{Result: gatewayrpc.TaskResult{RunID: "run-2", Status: "success"}}); err != nil {
		t.Fatal(err)
	}
	stats, err := s.Queue.Stats(ctx, "antcode:task:result")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Pending != 1 {
		t.Fatalf("expected one pending result, got %d", stats.Pending)
	}
}

func TestServerSendHeartbeatRegistersWorker(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	resp, err := s.SendHeartbeat(ctx, &gatewayrpc.SendHeartbeatRequest{
		Heartbeat: gatewayrpc.HeartbeatMessage{WorkerID: "w-9", ActiveSlots: 2, TotalSlots: 5, TTLSeconds: 30},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.AcceptedAt == 0 {
		t.Fatal("expected non-zero AcceptedAt")
	}
	active, err := s.Progress.ActiveWorkers(ctx, "heartbeat", "active")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, w := range active {
		if w == "w-9" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected w-9 registered as active")
	}
}

func TestServerSendLogChunkFinalizes(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	data := []byte("chunk-bytes")
	resp, err := s.SendLogChunk(ctx, &gatewayrpc.SendLogChunkRequest{Chunk: gatewayrpc.LogChunk{
		RunID: "run-3", ChunkType: "stdout", Data: data, Offset: 0, IsFinal: true, Total: int64(len(data)),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.NextOffset != int64(len(data)) {
		t.Fatalf("expected NextOffset=%d, got %d", len(data), resp.NextOffset)
	}
}

func TestServerPollAndAckControl(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	msg := gatewayrpc.ControlMessage{RequestID: "req-1", WorkerID: "w-5", Kind: "cancel"}
	payload, _ := json.Marshal(msg)
	if _, err := s.Control.Enqueue(ctx, s.controlStream("w-5"), [][]byte{payload}, 0); err != nil {
		t.Fatal(err)
	}

	resp, err := s.PollControl(ctx, &gatewayrpc.PollControlRequest{WorkerID: "w-5", BlockMs: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].RequestID != "req-1" {
		t.Fatalf("unexpected control poll result: %+v", resp)
	}

	if _, err := s.AckControl(ctx, &gatewayrpc.AckControlRequest{Receipt: resp.Messages[0].Receipt}); err != nil {
		t.Fatal(err)
	}
}

func TestServerRegisterWorkerWithoutInstallKeyStoreRejected(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.RegisterWorker(context.Background(), &gatewayrpc.RegisterWorkerRequest{WorkerID: "w-7"}); err == nil {
		t.Fatal("expected an error when no InstallKeyStore is configured")
	}
}

type stubInstallKeyStore struct {
	consumeErr error
	apiKey     string
}

func (s *stubInstallKeyStore) Consume(ctx context.Context, key string, proof identity.RegistrationProof, osArch, remoteIP, hostname string) error {
	return s.consumeErr
}

func (s *stubInstallKeyStore) IssueAPIKey(ctx context.Context, workerID string) (string, time.Time, error) {
	return s.apiKey, time.Now().Add(time.Hour), nil
}

func TestServerRegisterWorkerSuccess(t *testing.T) {
	s := newTestServer(t)
	s.InstallKeys = &stubInstallKeyStore{apiKey: "issued-key"}

	resp, err := s.RegisterWorker(context.Background(), &gatewayrpc.RegisterWorkerRequest{WorkerID: "w-8", InstallKey: "ik-1"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.APIKey != "issued-key" || resp.WorkerID != "w-8" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestServerRegisterWorkerRejectedProof(t *testing.T) {
	s := newTestServer(t)
	s.InstallKeys = &stubInstallKeyStore{consumeErr: errors.New("bad proof")}

	if _, err := s.RegisterWorker(context.Background(), &gatewayrpc.RegisterWorkerRequest{WorkerID: "w-8", InstallKey: "ik-1"}); err == nil {
		t.Fatal("expected rejection when Consume fails")
	}
}

func TestServerHealthCheck(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.HealthCheck(context.Background(), &gatewayrpc.HealthCheckRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected ok, got %q", resp.Status)
	}
}
