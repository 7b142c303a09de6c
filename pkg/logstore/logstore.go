// Package logstore implements the LogStorageBackend abstraction (spec §4.10):
// durable storage of a TaskRun's stdout/stderr/system log streams, written
// either as whole entries, as a full batch, or as offset-addressed chunks
// that get merged and compressed on finalize.
package logstore

import (
	"context"
	"time"
)

// Entry is one structured log line.
type Entry struct {
	RunID     string
	LogType   string // "stdout", "stderr", or "system"
	Content   string
	Sequence  int64
	Timestamp time.Time
	Level     string
	Source    string
}

// Chunk is one offset-addressed slice of a streamed upload.
type Chunk struct {
	RunID   string
	LogType string
	Offset  int64
	Data    []byte
}

// WriteResult reports the outcome of a write, with AckOffset giving the
// caller the offset to resume from on its next write.
type WriteResult struct {
	Success     bool
	AckOffset   int64
	StoragePath string
	Err         error
}

// QueryResult is a page of log entries.
type QueryResult struct {
	Entries    []Entry
	Total      int
	HasMore    bool
	NextCursor string
}

// PresignedUpload describes where and how a caller should upload a log
// artifact directly to the backend, bypassing the Gateway's own bandwidth.
type PresignedUpload struct {
	URL      string
	Path     string
	FinalURL string
	Headers  map[string]string
}

// Backend is the log storage contract.
type Backend interface {
	WriteLog(ctx context.Context, entry Entry) WriteResult
	WriteLogsBatch(ctx context.Context, entries []Entry) WriteResult

	WriteChunk(ctx context.Context, chunk Chunk) WriteResult
	// FinalizeChunks merges every chunk written for run/logType in offset
	// order, verifies totalSize and checksum (a hex SHA-256 digest) when
	// given, compresses the result, and discards the chunks.
	FinalizeChunks(ctx context.Context, runID, logType string, totalSize int64, checksum string) WriteResult

	QueryLogs(ctx context.Context, runID, logType string, startSeq int64, limit int, cursor string) (QueryResult, error)
	// StreamLog returns the full byte content of a (possibly compressed) log
	// artifact for runID/logType.
	StreamLog(ctx context.Context, runID, logType string) ([]byte, error)

	DeleteLogs(ctx context.Context, runID string) error

	PresignedUploadURL(ctx context.Context, runID, filename, contentType string, expiresIn time.Duration) (*PresignedUpload, error)
	PresignedDownloadURL(ctx context.Context, runID, logType string, expiresIn time.Duration) (string, error)

	HealthCheck(ctx context.Context) error
}

var defaultLogTypes = []string{"stdout", "stderr", "system"}
