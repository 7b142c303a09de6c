package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/antcode/antcode/pkg/gatewayrpc"
	"github.com/antcode/antcode/pkg/logstore"
	"github.com/antcode/antcode/pkg/progress"
	"github.com/antcode/antcode/pkg/queue"
)

// DirectClient implements gatewayrpc.Client by calling the queue, progress,
// and log-storage backends in-process, for a Worker running inside the
// trusted network where a Gateway hop would add latency for no security
// benefit. It presents the same semantics as the gRPC-backed Client for the
// calls the Worker engine makes, so the engine is unaware which mode it is
// running in; RegisterWorker is the exception and always returns an error.
type DirectClient struct {
	Namespace string
	Queue     queue.Queue
	Control   queue.Queue
	Progress  progress.Store
	Logs      logstore.Backend
}

func (d *DirectClient) readyStream(workerID string) string {
	if workerID == "" {
		return d.Namespace + ":task:ready"
	}
	return d.Namespace + ":task:ready:" + workerID
}

func (d *DirectClient) controlStream(workerID string) string {
	if workerID == "" {
		return d.Namespace + ":control:global"
	}
	return d.Namespace + ":control:" + workerID
}

func receiptFor(namespace, msgID string) string { return namespace + "|" + msgID }

func splitReceipt(receipt string) (namespace, msgID string, err error) {
	for i := len(receipt) - 1; i >= 0; i-- {
		if receipt[i] == '|' {
			return receipt[:i], receipt[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("transport: malformed receipt %q", receipt)
}

func (d *DirectClient) PollTask(ctx context.Context, req *gatewayrpc.PollTaskRequest) (*gatewayrpc.PollTaskResponse, error) {
	namespace := d.readyStream(req.WorkerID)
	items, err := d.Queue.Dequeue(ctx, namespace, req.WorkerID, req.Max, time.Duration(req.BlockMs)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	tasks := make([]gatewayrpc.Task, 0, len(items))
	for _, item := range items {
		var t gatewayrpc.Task
		if err := json.Unmarshal(item.Payload, &t); err != nil {
			continue
		}
		t.Receipt = receiptFor(namespace, item.MsgID)
		tasks = append(tasks, t)
	}
	return &gatewayrpc.PollTaskResponse{Tasks: tasks}, nil
}

func (d *DirectClient) AckTask(ctx context.Context, req *gatewayrpc.AckTaskRequest) (*gatewayrpc.AckTaskResponse, error) {
	namespace, msgID, err := splitReceipt(req.Receipt)
	if err != nil {
		return nil, err
	}
	if req.Accepted {
		return &gatewayrpc.AckTaskResponse{}, d.Queue.Ack(ctx, namespace, msgID)
	}
	if _, err := d.Queue.Requeue(ctx, namespace, msgID, nil, req.Reason); err != nil {
		return nil, err
	}
	return &gatewayrpc.AckTaskResponse{}, nil
}

func (d *DirectClient) ReportResult(ctx context.Context, req *gatewayrpc.ReportResultRequest) (*gatewayrpc.ReportResultResponse, error) {
	payload, err := json.Marshal(req.Result)
	if err != nil {
		return nil, err
	}
	resultStream := d.Namespace + ":task:result"
	if _, err := d.Queue.Enqueue(ctx, resultStream, [][]byte{payload}, 0); err != nil {
		return nil, err
	}
	return &gatewayrpc.ReportResultResponse{}, nil
}

func (d *DirectClient) SendHeartbeat(ctx context.Context, req *gatewayrpc.SendHeartbeatRequest) (*gatewayrpc.SendHeartbeatResponse, error) {
	hb := req.Heartbeat
	data := map[string]any{
		"zone":         hb.Zone,
		"active_slots": hb.ActiveSlots,
		"total_slots":  hb.TotalSlots,
		"version":      hb.Version,
	}
	if err := d.Progress.SetProgress(ctx, "heartbeat", hb.WorkerID, data); err != nil {
		return nil, err
	}
	if err := d.Progress.RegisterWorker(ctx, "heartbeat", "active", hb.WorkerID, hb.TTLSeconds); err != nil {
		return nil, err
	}
	return &gatewayrpc.SendHeartbeatResponse{AcceptedAt: time.Now().Unix()}, nil
}

func (d *DirectClient) SendLog(ctx context.Context, req *gatewayrpc.SendLogRequest) (*gatewayrpc.SendLogResponse, error) {
	result := d.Logs.WriteLog(ctx, toLogstoreEntry(req.Entry))
	if !result.Success {
		return nil, result.Err
	}
	return &gatewayrpc.SendLogResponse{}, nil
}

func (d *DirectClient) SendLogBatch(ctx context.Context, req *gatewayrpc.SendLogBatchRequest) (*gatewayrpc.SendLogBatchResponse, error) {
	entries := make([]logstore.Entry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, toLogstoreEntry(e))
	}
	result := d.Logs.WriteLogsBatch(ctx, entries)
	if !result.Success {
		return nil, result.Err
	}
	return &gatewayrpc.SendLogBatchResponse{Accepted: len(entries)}, nil
}

func (d *DirectClient) SendLogChunk(ctx context.Context, req *gatewayrpc.SendLogChunkRequest) (*gatewayrpc.SendLogChunkResponse, error) {
	c := req.Chunk
	result := d.Logs.WriteChunk(ctx, logstore.Chunk{RunID: c.RunID, LogType: c.ChunkType, Offset: c.Offset, Data: c.Data})
	if !result.Success {
		return nil, result.Err
	}
	if c.IsFinal {
		final := d.Logs.FinalizeChunks(ctx, c.RunID, c.ChunkType, c.Total, c.Checksum)
		if !final.Success {
			return nil, final.Err
		}
		return &gatewayrpc.SendLogChunkResponse{NextOffset: c.Total}, nil
	}
	return &gatewayrpc.SendLogChunkResponse{NextOffset: result.AckOffset}, nil
}

func (d *DirectClient) PollControl(ctx context.Context, req *gatewayrpc.PollControlRequest) (*gatewayrpc.PollControlResponse, error) {
	namespace := d.controlStream(req.WorkerID)
	items, err := d.Control.Dequeue(ctx, namespace, req.WorkerID, 10, time.Duration(req.BlockMs)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	msgs := make([]gatewayrpc.ControlMessage, 0, len(items))
	for _, item := range items {
		var m gatewayrpc.ControlMessage
		if err := json.Unmarshal(item.Payload, &m); err != nil {
			continue
		}
		m.Receipt = receiptFor(namespace, item.MsgID)
		msgs = append(msgs, m)
	}
	return &gatewayrpc.PollControlResponse{Messages: msgs}, nil
}

func (d *DirectClient) AckControl(ctx context.Context, req *gatewayrpc.AckControlRequest) (*gatewayrpc.AckControlResponse, error) {
	namespace, msgID, err := splitReceipt(req.Receipt)
	if err != nil {
		return nil, err
	}
	return &gatewayrpc.AckControlResponse{}, d.Control.Ack(ctx, namespace, msgID)
}

func (d *DirectClient) SendControlResult(ctx context.Context, req *gatewayrpc.SendControlResultRequest) (*gatewayrpc.SendControlResultResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := d.Control.Enqueue(ctx, req.ReplyStream, [][]byte{payload}, 0); err != nil {
		return nil, err
	}
	return &gatewayrpc.SendControlResultResponse{}, nil
}

func (d *DirectClient) RegisterWorker(ctx context.Context, req *gatewayrpc.RegisterWorkerRequest) (*gatewayrpc.RegisterWorkerResponse, error) {
	return nil, fmt.Errorf("transport: RegisterWorker is a Gateway-only RPC, not available in Direct mode")
}

func (d *DirectClient) HealthCheck(ctx context.Context, req *gatewayrpc.HealthCheckRequest) (*gatewayrpc.HealthCheckResponse, error) {
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

var _ gatewayrpc.Client = (*DirectClient)(nil)
