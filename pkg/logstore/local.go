package logstore

import (
	"bufio"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// LocalLogStore writes logs to the local filesystem under:
//
//	{baseDir}/{run_id}/{log_type}.jsonl
//	{baseDir}/{run_id}/{log_type}.log.gz     (after FinalizeChunks)
//	{baseDir}/{run_id}/chunks/{log_type}/{offset}.chunk
//
// Intended for development and single-node deployments.
type LocalLogStore struct {
	baseDir string
}

func NewLocalLogStore(baseDir string) *LocalLogStore {
	return &LocalLogStore{baseDir: baseDir}
}

func (s *LocalLogStore) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *LocalLogStore) logPath(runID, logType string, compressed bool) string {
	ext := ".jsonl"
	if compressed {
		ext = ".log.gz"
	}
	return filepath.Join(s.runDir(runID), logType+ext)
}

func (s *LocalLogStore) chunkDir(runID, logType string) string {
	return filepath.Join(s.runDir(runID), "chunks", logType)
}

type jsonLine struct {
	Seq     int64  `json:"seq"`
	TS      string `json:"ts"`
	Level   string `json:"level"`
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

func encodeLine(e Entry) (string, error) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	b, err := json.Marshal(jsonLine{Seq: e.Sequence, TS: ts.Format(time.RFC3339Nano), Level: e.Level, Content: e.Content, Source: e.Source})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *LocalLogStore) WriteLog(ctx context.Context, entry Entry) WriteResult {
	if err := os.MkdirAll(s.runDir(entry.RunID), 0o755); err != nil {
		return WriteResult{Err: fmt.Errorf("logstore: mkdir: %w", err)}
	}
	line, err := encodeLine(entry)
	if err != nil {
		return WriteResult{Err: err}
	}
	f, err := os.OpenFile(s.logPath(entry.RunID, entry.LogType, false), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return WriteResult{Err: fmt.Errorf("logstore: open: %w", err)}
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return WriteResult{Err: fmt.Errorf("logstore: write: %w", err)}
	}
	return WriteResult{Success: true, AckOffset: entry.Sequence}
}

func (s *LocalLogStore) WriteLogsBatch(ctx context.Context, entries []Entry) WriteResult {
	if len(entries) == 0 {
		return WriteResult{Success: true}
	}
	type groupKey struct{ runID, logType string }
	groups := make(map[groupKey][]Entry)
	for _, e := range entries {
		k := groupKey{e.RunID, e.LogType}
		groups[k] = append(groups[k], e)
	}

	var maxSeq int64
	for k, group := range groups {
		if err := os.MkdirAll(s.runDir(k.runID), 0o755); err != nil {
			return WriteResult{Err: fmt.Errorf("logstore: mkdir: %w", err)}
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Sequence < group[j].Sequence })

		f, err := os.OpenFile(s.logPath(k.runID, k.logType, false), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return WriteResult{Err: fmt.Errorf("logstore: open: %w", err)}
		}
		w := bufio.NewWriter(f)
		for _, e := range group {
			line, err := encodeLine(e)
			if err != nil {
				f.Close()
				return WriteResult{Err: err}
			}
			if _, err := w.WriteString(line + "\n"); err != nil {
				f.Close()
				return WriteResult{Err: fmt.Errorf("logstore: write: %w", err)}
			}
			if e.Sequence > maxSeq {
				maxSeq = e.Sequence
			}
		}
		err = w.Flush()
		f.Close()
		if err != nil {
			return WriteResult{Err: fmt.Errorf("logstore: flush: %w", err)}
		}
	}
	return WriteResult{Success: true, AckOffset: maxSeq}
}

func (s *LocalLogStore) WriteChunk(ctx context.Context, chunk Chunk) WriteResult {
	dir := s.chunkDir(chunk.RunID, chunk.LogType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WriteResult{Err: fmt.Errorf("logstore: mkdir: %w", err)}
	}
	path := filepath.Join(dir, fmt.Sprintf("%012d.chunk", chunk.Offset))
	if err := os.WriteFile(path, chunk.Data, 0o644); err != nil {
		return WriteResult{AckOffset: chunk.Offset, Err: fmt.Errorf("logstore: write chunk: %w", err)}
	}
	return WriteResult{Success: true, AckOffset: chunk.Offset + int64(len(chunk.Data)), StoragePath: path}
}

func (s *LocalLogStore) FinalizeChunks(ctx context.Context, runID, logType string, totalSize int64, checksum string) WriteResult {
	dir := s.chunkDir(runID, logType)
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		return WriteResult{Err: fmt.Errorf("logstore: no chunks found for %s/%s", runID, logType)}
	}
	var names []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".chunk" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	hasher := sha256.New()
	var combined []byte
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return WriteResult{Err: fmt.Errorf("logstore: read chunk: %w", err)}
		}
		combined = append(combined, data...)
		hasher.Write(data)
	}

	if totalSize > 0 && int64(len(combined)) != totalSize {
		return WriteResult{Err: fmt.Errorf("logstore: size mismatch: expected %d, got %d", totalSize, len(combined))}
	}
	actualChecksum := hex.EncodeToString(hasher.Sum(nil))
	if checksum != "" && checksum != actualChecksum {
		return WriteResult{Err: fmt.Errorf("logstore: checksum mismatch")}
	}

	finalPath := s.logPath(runID, logType, true)
	f, err := os.Create(finalPath)
	if err != nil {
		return WriteResult{Err: fmt.Errorf("logstore: create archive: %w", err)}
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write(combined); err != nil {
		gz.Close()
		f.Close()
		return WriteResult{Err: fmt.Errorf("logstore: gzip: %w", err)}
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return WriteResult{Err: fmt.Errorf("logstore: gzip close: %w", err)}
	}
	if err := f.Close(); err != nil {
		return WriteResult{Err: fmt.Errorf("logstore: close archive: %w", err)}
	}
	if err := os.RemoveAll(dir); err != nil {
		return WriteResult{Err: fmt.Errorf("logstore: remove chunks: %w", err)}
	}

	return WriteResult{Success: true, AckOffset: int64(len(combined)), StoragePath: finalPath}
}

func (s *LocalLogStore) QueryLogs(ctx context.Context, runID, logType string, startSeq int64, limit int, cursor string) (QueryResult, error) {
	logTypes := defaultLogTypes
	if logType != "" {
		logTypes = []string{logType}
	}

	var entries []Entry
	for _, lt := range logTypes {
		path := s.logPath(runID, lt, false)
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			var jl jsonLine
			if err := json.Unmarshal([]byte(line), &jl); err != nil {
				continue
			}
			if jl.Seq < startSeq {
				continue
			}
			ts, _ := time.Parse(time.RFC3339Nano, jl.TS)
			entries = append(entries, Entry{
				RunID: runID, LogType: lt, Content: jl.Content, Sequence: jl.Seq,
				Timestamp: ts, Level: jl.Level, Source: jl.Source,
			})
		}
		f.Close()
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	total := len(entries)
	hasMore := total > limit
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	result := QueryResult{Entries: entries, Total: total, HasMore: hasMore}
	if hasMore && len(entries) > 0 {
		result.NextCursor = fmt.Sprintf("%d", entries[len(entries)-1].Sequence+1)
	}
	return result, nil
}

func (s *LocalLogStore) StreamLog(ctx context.Context, runID, logType string) ([]byte, error) {
	compressedPath := s.logPath(runID, logType, true)
	if data, err := os.ReadFile(compressedPath); err == nil {
		return data, nil
	}
	data, err := os.ReadFile(s.logPath(runID, logType, false))
	if err != nil {
		return nil, fmt.Errorf("logstore: no log found for %s/%s", runID, logType)
	}
	return data, nil
}

func (s *LocalLogStore) DeleteLogs(ctx context.Context, runID string) error {
	return os.RemoveAll(s.runDir(runID))
}

func (s *LocalLogStore) PresignedUploadURL(ctx context.Context, runID, filename, contentType string, expiresIn time.Duration) (*PresignedUpload, error) {
	path := filepath.Join(s.runDir(runID), filename)
	return &PresignedUpload{
		URL:      "file://" + path,
		Path:     path,
		FinalURL: "file://" + path,
		Headers:  map[string]string{},
	}, nil
}

func (s *LocalLogStore) PresignedDownloadURL(ctx context.Context, runID, logType string, expiresIn time.Duration) (string, error) {
	compressedPath := s.logPath(runID, logType, true)
	if _, err := os.Stat(compressedPath); err == nil {
		return "file://" + compressedPath, nil
	}
	path := s.logPath(runID, logType, false)
	if _, err := os.Stat(path); err == nil {
		return "file://" + path, nil
	}
	return "", nil
}

func (s *LocalLogStore) HealthCheck(ctx context.Context) error {
	return os.MkdirAll(s.baseDir, 0o755)
}
