package logstream

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/log"
)

// ChunkSize is the durable archive's fixed chunk boundary.
const ChunkSize = 64 * 1024

// ChunkUploadRequest is what the Archiver hands to its Transport for each
// chunk, mirroring the request/response RPC wrapper shape used elsewhere in
// this codebase: a single struct in, a single struct out.
type ChunkUploadRequest struct {
	RunID      string
	Offset     int64
	Data       []byte
	Checksum   string // running SHA-256 of all bytes through Offset+len(Data), hex
	Final      bool
}

// ChunkUploadResponse acknowledges how much of the chunk the remote end
// durably accepted, enabling the Archiver to resume from AckOffset after a
// transient failure instead of resending the whole run from byte zero.
type ChunkUploadResponse struct {
	AckOffset int64
}

// ChunkTransport delivers one archive chunk at a time.
type ChunkTransport interface {
	UploadChunk(ctx context.Context, req ChunkUploadRequest) (ChunkUploadResponse, error)
}

// Archiver buffers a run's full log output into fixed-size chunks, each
// checksummed with a running SHA-256 over everything written so far, and
// uploads them via a ChunkTransport. A failed upload can resume from the
// transport's last acknowledged offset rather than restarting.
type Archiver struct {
	runID     string
	transport ChunkTransport
	logger    zerolog.Logger

	mu      sync.Mutex
	buf     bytes.Buffer
	h       runningHash
	offset  int64 // bytes durably acknowledged by the transport
	written int64 // bytes appended locally (>= offset)
}

// runningHash is the subset of hash.Hash the Archiver needs: write-as-you-go,
// read the digest so far without resetting it.
type runningHash interface {
	io.Writer
	Sum(b []byte) []byte
}

func NewArchiver(runID string, transport ChunkTransport) *Archiver {
	return &Archiver{
		runID:     runID,
		transport: transport,
		logger:    log.WithComponent("logstream-archiver"),
		h:         sha256.New(),
	}
}

// Resume seeds the archiver's offset after recovering from a restart, so a
// re-attached run continues the same byte sequence instead of starting a
// fresh, conflicting archive at offset 0. The running checksum is not
// restored: it starts empty and covers only bytes written after Resume.
func (a *Archiver) Resume(offset int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.offset = offset
	a.written = offset
}

// Write appends p to the pending chunk, flushing once it reaches ChunkSize.
func (a *Archiver) Write(ctx context.Context, p []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf.Write(p)
	a.h.Write(p)
	a.written += int64(len(p))

	for a.buf.Len() >= ChunkSize {
		if err := a.flushChunk(ctx, false); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes any remaining buffered bytes as the final chunk.
func (a *Archiver) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushChunk(ctx, true)
}

// flushChunk must be called with mu held.
func (a *Archiver) flushChunk(ctx context.Context, final bool) error {
	if a.buf.Len() == 0 && (!final || a.written == 0) {
		return nil
	}
	n := a.buf.Len()
	if !final && n > ChunkSize {
		n = ChunkSize
	}
	data := make([]byte, n)
	copy(data, a.buf.Bytes()[:n])
	a.buf.Next(n)

	checksum := hex.EncodeToString(a.h.Sum(nil))

	req := ChunkUploadRequest{
		RunID:    a.runID,
		Offset:   a.offset,
		Data:     data,
		Checksum: checksum,
		Final:    final && a.buf.Len() == 0,
	}

	resp, err := a.transport.UploadChunk(ctx, req)
	if err != nil {
		return fmt.Errorf("logstream: upload chunk at offset %d: %w", a.offset, err)
	}
	if resp.AckOffset < a.offset+int64(len(data)) {
		a.logger.Warn().
			Str("run_id", a.runID).
			Int64("expected_offset", a.offset+int64(len(data))).
			Int64("ack_offset", resp.AckOffset).
			Msg("archive chunk partially acknowledged, will resend remainder")
	}
	a.offset = resp.AckOffset
	return nil
}

// Offset reports the last acknowledged byte offset.
func (a *Archiver) Offset() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offset
}
