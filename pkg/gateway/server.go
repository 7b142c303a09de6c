package gateway

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/antcode/antcode/pkg/gatewayrpc"
	"github.com/antcode/antcode/pkg/identity"
	"github.com/antcode/antcode/pkg/logstore"
	"github.com/antcode/antcode/pkg/progress"
	"github.com/antcode/antcode/pkg/queue"
)

// receipt joins a namespace and a queue's opaque message ID the same way
// pkg/transport.DirectClient does, so a Worker can move between Direct and
// Gateway mode without the receipt format changing.
func receipt(namespace, msgID string) string { return namespace + "|" + msgID }

func splitReceipt(r string) (namespace, msgID string, err error) {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] == '|' {
			return r[:i], r[i+1:], nil
		}
	}
	return "", "", status.Errorf(codes.InvalidArgument, "malformed receipt %q", r)
}

// Server implements gatewayrpc.Server, translating each RPC into Redis
// operations against the shared queue/progress/logstore backends - it holds
// no scheduling logic of its own (spec §4.5).
type Server struct {
	Namespace     string
	Queue         queue.Queue
	Control       queue.Queue
	Progress      progress.Store
	Logs          logstore.Backend
	InstallKeys   InstallKeyStore
	WorkerAPIKeys CredentialStore
}

// InstallKeyStore resolves and consumes one-time InstallKeys during Worker
// registration.
type InstallKeyStore interface {
	// Consume validates proof against the InstallKey identified by key,
	// checking OS/source binding, and invalidates it on success.
	Consume(ctx context.Context, key string, proof identity.RegistrationProof, osArch, remoteIP, hostname string) error
	// IssueAPIKey mints a fresh API key bound to workerID.
	IssueAPIKey(ctx context.Context, workerID string) (apiKey string, expiresAt time.Time, err error)
}

func (s *Server) readyStream(workerID string) string {
	if workerID == "" {
		return s.Namespace + ":task:ready"
	}
	return s.Namespace + ":task:ready:" + workerID
}

func (s *Server) controlStream(workerID string) string {
	if workerID == "" {
		return s.Namespace + ":control:global"
	}
	return s.Namespace + ":control:" + workerID
}

func (s *Server) PollTask(ctx context.Context, req *gatewayrpc.PollTaskRequest) (*gatewayrpc.PollTaskResponse, error) {
	namespace := s.readyStream(req.WorkerID)
	items, err := s.Queue.Dequeue(ctx, namespace, req.WorkerID, req.Max, time.Duration(req.BlockMs)*time.Millisecond)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "dequeue: %v", err)
	}
	tasks := make([]gatewayrpc.Task, 0, len(items))
	for _, item := range items {
		var t gatewayrpc.Task
		if err := json.Unmarshal(item.Payload, &t); err != nil {
			continue
		}
		t.Receipt = receipt(namespace, item.MsgID)
		tasks = append(tasks, t)
	}
	return &gatewayrpc.PollTaskResponse{Tasks: tasks}, nil
}

func (s *Server) AckTask(ctx context.Context, req *gatewayrpc.AckTaskRequest) (*gatewayrpc.AckTaskResponse, error) {
	namespace, msgID, err := splitReceipt(req.Receipt)
	if err != nil {
		return nil, err
	}
	if req.Accepted {
		if err := s.Queue.Ack(ctx, namespace, msgID); err != nil {
			return nil, status.Errorf(codes.Unavailable, "ack: %v", err)
		}
		return &gatewayrpc.AckTaskResponse{}, nil
	}
	if _, err := s.Queue.Requeue(ctx, namespace, msgID, nil, req.Reason); err != nil {
		return nil, status.Errorf(codes.Unavailable, "requeue: %v", err)
	}
	return &gatewayrpc.AckTaskResponse{}, nil
}

func (s *Server) ReportResult(ctx context.Context, req *gatewayrpc.ReportResultRequest) (*gatewayrpc.ReportResultResponse, error) {
	payload, err := json.Marshal(req.Result)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "marshal result: %v", err)
	}
	if _, err := s.Queue.Enqueue(ctx, s.Namespace+":task:result", [][]byte{payload}, 0); err != nil {
		return nil, status.Errorf(codes.Unavailable, "enqueue result: %v", err)
	}
	return &gatewayrpc.ReportResultResponse{}, nil
}

func (s *Server) SendHeartbeat(ctx context.Context, req *gatewayrpc.SendHeartbeatRequest) (*gatewayrpc.SendHeartbeatResponse, error) {
	hb := req.Heartbeat
	data := map[string]any{
		"zone":         hb.Zone,
		"active_slots": hb.ActiveSlots,
		"total_slots":  hb.TotalSlots,
		"version":      hb.Version,
	}
	if err := s.Progress.SetProgress(ctx, "heartbeat", hb.WorkerID, data); err != nil {
		return nil, status.Errorf(codes.Unavailable, "heartbeat: %v", err)
	}
	if err := s.Progress.RegisterWorker(ctx, "heartbeat", "active", hb.WorkerID, hb.TTLSeconds); err != nil {
		return nil, status.Errorf(codes.Unavailable, "heartbeat membership: %v", err)
	}
	return &gatewayrpc.SendHeartbeatResponse{AcceptedAt: time.Now().Unix()}, nil
}

func (s *Server) SendLog(ctx context.Context, req *gatewayrpc.SendLogRequest) (*gatewayrpc.SendLogResponse, error) {
	result := s.Logs.WriteLog(ctx, toLogstoreEntry(req.Entry))
	if !result.Success {
		return nil, status.Errorf(codes.Unavailable, "write log: %v", result.Err)
	}
	return &gatewayrpc.SendLogResponse{}, nil
}

func (s *Server) SendLogBatch(ctx context.Context, req *gatewayrpc.SendLogBatchRequest) (*gatewayrpc.SendLogBatchResponse, error) {
	entries := make([]logstore.Entry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, toLogstoreEntry(e))
	}
	result := s.Logs.WriteLogsBatch(ctx, entries)
	if !result.Success {
		return nil, status.Errorf(codes.Unavailable, "write log batch: %v", result.Err)
	}
	return &gatewayrpc.SendLogBatchResponse{Accepted: len(entries)}, nil
}

func (s *Server) SendLogChunk(ctx context.Context, req *gatewayrpc.SendLogChunkRequest) (*gatewayrpc.SendLogChunkResponse, error) {
	c := req.Chunk
	result := s.Logs.WriteChunk(ctx, logstore.Chunk{RunID: c.RunID, LogType: c.ChunkType, Offset: c.Offset, Data: c.Data})
	if !result.Success {
		return nil, status.Errorf(codes.Unavailable, "write chunk: %v", result.Err)
	}
	if !c.IsFinal {
		return &gatewayrpc.SendLogChunkResponse{NextOffset: result.AckOffset}, nil
	}
	final := s.Logs.FinalizeChunks(ctx, c.RunID, c.ChunkType, c.Total, c.Checksum)
	if !final.Success {
		return nil, status.Errorf(codes.FailedPrecondition, "finalize chunks: %v", final.Err)
	}
	return &gatewayrpc.SendLogChunkResponse{NextOffset: c.Total}, nil
}

func (s *Server) PollControl(ctx context.Context, req *gatewayrpc.PollControlRequest) (*gatewayrpc.PollControlResponse, error) {
	namespace := s.controlStream(req.WorkerID)
	items, err := s.Control.Dequeue(ctx, namespace, req.WorkerID, 10, time.Duration(req.BlockMs)*time.Millisecond)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "poll control: %v", err)
	}
	msgs := make([]gatewayrpc.ControlMessage, 0, len(items))
	for _, item := range items {
		var m gatewayrpc.ControlMessage
		if err := json.Unmarshal(item.Payload, &m); err != nil {
			continue
		}
		m.Receipt = receipt(namespace, item.MsgID)
		msgs = append(msgs, m)
	}
	return &gatewayrpc.PollControlResponse{Messages: msgs}, nil
}

func (s *Server) AckControl(ctx context.Context, req *gatewayrpc.AckControlRequest) (*gatewayrpc.AckControlResponse, error) {
	namespace, msgID, err := splitReceipt(req.Receipt)
	if err != nil {
		return nil, err
	}
	if err := s.Control.Ack(ctx, namespace, msgID); err != nil {
		return nil, status.Errorf(codes.Unavailable, "ack control: %v", err)
	}
	return &gatewayrpc.AckControlResponse{}, nil
}

func (s *Server) SendControlResult(ctx context.Context, req *gatewayrpc.SendControlResultRequest) (*gatewayrpc.SendControlResultResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "marshal control result: %v", err)
	}
	if _, err := s.Control.Enqueue(ctx, req.ReplyStream, [][]byte{payload}, 0); err != nil {
		return nil, status.Errorf(codes.Unavailable, "enqueue control result: %v", err)
	}
	return &gatewayrpc.SendControlResultResponse{}, nil
}

func (s *Server) RegisterWorker(ctx context.Context, req *gatewayrpc.RegisterWorkerRequest) (*gatewayrpc.RegisterWorkerResponse, error) {
	if s.InstallKeys == nil {
		return nil, status.Error(codes.Unimplemented, "install keys are not configured on this gateway")
	}
	proof := identity.RegistrationProof{Nonce: req.Nonce, Timestamp: req.Timestamp, Signature: req.Signature}
	if err := s.InstallKeys.Consume(ctx, req.InstallKey, proof, req.OSArch, "", req.Hostname); err != nil {
		return nil, status.Errorf(codes.PermissionDenied, "install key rejected: %v", err)
	}
	apiKey, expiresAt, err := s.InstallKeys.IssueAPIKey(ctx, req.WorkerID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "issue api key: %v", err)
	}
	return &gatewayrpc.RegisterWorkerResponse{APIKey: apiKey, WorkerID: req.WorkerID, ExpiresAt: expiresAt.Unix()}, nil
}

func (s *Server) HealthCheck(ctx context.Context, req *gatewayrpc.HealthCheckRequest) (*gatewayrpc.HealthCheckResponse, error) {
	return &gatewayrpc.HealthCheckResponse{Status: "ok"}, nil
}

func toLogstoreEntry(e gatewayrpc.LogEntry) logstore.Entry {
	return logstore.Entry{
		RunID:     e.RunID,
		LogType:   e.Stream,
		Content:   e.Data,
		Sequence:  e.Sequence,
		Timestamp: time.Unix(e.Timestamp, 0),
	}
}

var _ gatewayrpc.Server = (*Server)(nil)
