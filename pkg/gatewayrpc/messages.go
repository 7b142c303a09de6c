// Package gatewayrpc defines the Gateway<->Worker RPC surface: message types,
// a Client/Server pair, and the gRPC wire plumbing (a hand-written
// grpc.ServiceDesc plus a JSON codec) needed to carry them without generated
// protobuf stubs.
package gatewayrpc

import "time"

// Task is one unit of dispatched work, carrying an opaque delivery receipt
// the Worker must echo back on Ack. Its JSON shape mirrors the QueuedTask
// payload a Master enqueues, so both Direct and gRPC transports can decode a
// ready-stream message straight into a Task without a separate translation
// type; ProjectPath and Args are never sent over the wire and are filled in
// locally by the Worker once it has fetched the project artifact.
type Task struct {
	Receipt      string             `json:"-"`
	RunID        string             `json:"run_id"`
	TaskID       string             `json:"task_id"`
	ProjectID    string             `json:"project_id"`
	ProjectType  string             `json:"project_type"`
	Priority     int                `json:"priority"`
	Timeout      time.Duration      `json:"timeout"`
	DownloadURL  string             `json:"download_url"`
	FileHash     string             `json:"file_hash"`
	IsCompressed *bool              `json:"is_compressed,omitempty"`
	EntryPoint   string             `json:"entry_point"`
	Params       map[string]any     `json:"params,omitempty"`
	EnvVars      map[string]string  `json:"environment,omitempty"`
	Signature    *DispatchSignature `json:"signature,omitempty"`

	ProjectPath string   `json:"-"`
	Args        []string `json:"-"`
}

// DispatchSignature authenticates a Task payload end to end, mirroring
// types.DispatchSignature's shape so it decodes directly off the wire.
type DispatchSignature struct {
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
	Algorithm string `json:"algorithm"`
}

type PollTaskRequest struct {
	WorkerID string
	Max      int
	BlockMs  int64
	Queues   []string
}

type PollTaskResponse struct {
	Tasks []Task
}

type AckTaskRequest struct {
	Receipt  string
	Accepted bool
	Reason   string
}

type AckTaskResponse struct{}

// TaskResult is the terminal outcome of one TaskRun.
type TaskResult struct {
	RunID      string
	TaskID     string
	WorkerID   string
	Status     string
	ExitCode   int
	Error      string
	StartTime  int64
	EndTime    int64
	Artifacts  []string
	OutputData map[string]string
}

type ReportResultRequest struct {
	Result TaskResult
}

type ReportResultResponse struct{}

// HeartbeatMessage is periodically sent by a Worker to prove liveness and
// report capacity.
type HeartbeatMessage struct {
	WorkerID    string
	Zone        string
	Labels      map[string]string
	ActiveSlots int
	TotalSlots  int
	TTLSeconds  int
	Version     string
}

type SendHeartbeatRequest struct {
	Heartbeat HeartbeatMessage
}

type SendHeartbeatResponse struct {
	AcceptedAt int64
}

// LogEntry is one structured log line produced during a TaskRun.
type LogEntry struct {
	RunID     string
	Sequence  int64
	Stream    string // stdout | stderr | system
	Data      string
	Timestamp int64
}

type SendLogRequest struct {
	Entry LogEntry
}

type SendLogResponse struct{}

type SendLogBatchRequest struct {
	Entries []LogEntry
}

type SendLogBatchResponse struct {
	Accepted int
}

// LogChunk is one piece of a larger artifact (stdout capture, build log)
// streamed incrementally and reassembled on is_final.
type LogChunk struct {
	RunID     string
	ChunkType string
	Data      []byte
	Offset    int64
	IsFinal   bool
	Checksum  string
	Total     int64
}

type SendLogChunkRequest struct {
	Chunk LogChunk
}

type SendLogChunkResponse struct {
	NextOffset int64
}

// ControlMessage targets a single Worker or the broadcast channel with a
// cancel, kill, or configuration-push directive.
type ControlMessage struct {
	Receipt     string
	RequestID   string
	WorkerID    string
	Kind        string // cancel | kill | config
	ReplyStream string
	Data        map[string]string
}

type PollControlRequest struct {
	WorkerID string
	BlockMs  int64
}

type PollControlResponse struct {
	Messages []ControlMessage
}

type AckControlRequest struct {
	Receipt string
}

type AckControlResponse struct{}

type SendControlResultRequest struct {
	RequestID   string
	ReplyStream string
	OK          bool
	Data        map[string]string
	Error       string
}

type SendControlResultResponse struct{}

// RegisterWorkerRequest is sent unauthenticated, consuming an InstallKey
// proof in exchange for a freshly minted API key bound to WorkerID.
type RegisterWorkerRequest struct {
	WorkerID   string
	InstallKey string
	Nonce      string
	Timestamp  int64
	Signature  string
	OSArch     string
	Hostname   string
}

type RegisterWorkerResponse struct {
	APIKey    string
	WorkerID  string
	ExpiresAt int64
}

type HealthCheckRequest struct{}

type HealthCheckResponse struct {
	Status string
}
