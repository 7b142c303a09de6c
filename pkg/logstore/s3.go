package logstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3LogStore implements Backend against an S3-compatible object store:
// per-run objects under a configurable prefix, chunk objects keyed by offset
// and merged on FinalizeChunks, and native presigned upload/download URLs.
type S3LogStore struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	prefix   string
}

func NewS3LogStore(client *s3.Client, bucket, prefix string) *S3LogStore {
	return &S3LogStore{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
	}
}

func (s *S3LogStore) key(parts ...string) string {
	all := append([]string{s.prefix}, parts...)
	var nonEmpty []string
	for _, p := range all {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "/")
}

func (s *S3LogStore) logKey(runID, logType string, compressed bool) string {
	ext := ".jsonl"
	if compressed {
		ext = ".log.gz"
	}
	return s.key(runID, logType+ext)
}

func (s *S3LogStore) chunkKey(runID, logType string, offset int64) string {
	return s.key(runID, "chunks", logType, fmt.Sprintf("%012d.chunk", offset))
}

func (s *S3LogStore) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3LogStore) putObject(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (s *S3LogStore) WriteLog(ctx context.Context, entry Entry) WriteResult {
	return s.WriteLogsBatch(ctx, []Entry{entry})
}

func (s *S3LogStore) WriteLogsBatch(ctx context.Context, entries []Entry) WriteResult {
	if len(entries) == 0 {
		return WriteResult{Success: true}
	}
	type groupKey struct{ runID, logType string }
	groups := make(map[groupKey][]Entry)
	for _, e := range entries {
		groups[groupKey{e.RunID, e.LogType}] = append(groups[groupKey{e.RunID, e.LogType}], e)
	}

	var maxSeq int64
	for k, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].Sequence < group[j].Sequence })

		key := s.logKey(k.runID, k.logType, false)
		existing, _ := s.getObject(ctx, key)

		var buf bytes.Buffer
		buf.Write(existing)
		for _, e := range group {
			line, err := encodeLine(e)
			if err != nil {
				return WriteResult{Err: err}
			}
			buf.WriteString(line)
			buf.WriteString("\n")
			if e.Sequence > maxSeq {
				maxSeq = e.Sequence
			}
		}
		if err := s.putObject(ctx, key, buf.Bytes()); err != nil {
			return WriteResult{Err: fmt.Errorf("logstore: s3 put: %w", err)}
		}
	}
	return WriteResult{Success: true, AckOffset: maxSeq}
}

func (s *S3LogStore) WriteChunk(ctx context.Context, chunk Chunk) WriteResult {
	key := s.chunkKey(chunk.RunID, chunk.LogType, chunk.Offset)
	if err := s.putObject(ctx, key, chunk.Data); err != nil {
		return WriteResult{AckOffset: chunk.Offset, Err: fmt.Errorf("logstore: s3 put chunk: %w", err)}
	}
	return WriteResult{Success: true, AckOffset: chunk.Offset + int64(len(chunk.Data)), StoragePath: key}
}

func (s *S3LogStore) FinalizeChunks(ctx context.Context, runID, logType string, totalSize int64, checksum string) WriteResult {
	prefix := s.key(runID, "chunks", logType) + "/"
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return WriteResult{Err: fmt.Errorf("logstore: s3 list chunks: %w", err)}
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	if len(keys) == 0 {
		return WriteResult{Err: fmt.Errorf("logstore: no chunks found for %s/%s", runID, logType)}
	}
	sort.Strings(keys)

	hasher := sha256.New()
	var combined bytes.Buffer
	for _, k := range keys {
		data, err := s.getObject(ctx, k)
		if err != nil {
			return WriteResult{Err: fmt.Errorf("logstore: s3 get chunk: %w", err)}
		}
		combined.Write(data)
		hasher.Write(data)
	}

	if totalSize > 0 && int64(combined.Len()) != totalSize {
		return WriteResult{Err: fmt.Errorf("logstore: size mismatch: expected %d, got %d", totalSize, combined.Len())}
	}
	actualChecksum := hex.EncodeToString(hasher.Sum(nil))
	if checksum != "" && checksum != actualChecksum {
		return WriteResult{Err: fmt.Errorf("logstore: checksum mismatch")}
	}

	var gzBuf bytes.Buffer
	gz := gzip.NewWriter(&gzBuf)
	if _, err := gz.Write(combined.Bytes()); err != nil {
		return WriteResult{Err: fmt.Errorf("logstore: gzip: %w", err)}
	}
	if err := gz.Close(); err != nil {
		return WriteResult{Err: fmt.Errorf("logstore: gzip close: %w", err)}
	}

	finalKey := s.logKey(runID, logType, true)
	if err := s.putObject(ctx, finalKey, gzBuf.Bytes()); err != nil {
		return WriteResult{Err: fmt.Errorf("logstore: s3 put archive: %w", err)}
	}
	for _, k := range keys {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(k)}); err != nil {
			return WriteResult{Err: fmt.Errorf("logstore: s3 delete chunk: %w", err)}
		}
	}

	return WriteResult{Success: true, AckOffset: int64(combined.Len()), StoragePath: finalKey}
}

func (s *S3LogStore) QueryLogs(ctx context.Context, runID, logType string, startSeq int64, limit int, cursor string) (QueryResult, error) {
	logTypes := defaultLogTypes
	if logType != "" {
		logTypes = []string{logType}
	}

	var entries []Entry
	for _, lt := range logTypes {
		data, err := s.getObject(ctx, s.logKey(runID, lt, false))
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
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

func (s *S3LogStore) StreamLog(ctx context.Context, runID, logType string) ([]byte, error) {
	if data, err := s.getObject(ctx, s.logKey(runID, logType, true)); err == nil {
		return data, nil
	}
	data, err := s.getObject(ctx, s.logKey(runID, logType, false))
	if err != nil {
		return nil, fmt.Errorf("logstore: no log found for %s/%s", runID, logType)
	}
	return data, nil
}

func (s *S3LogStore) DeleteLogs(ctx context.Context, runID string) error {
	prefix := s.key(runID) + "/"
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("logstore: s3 list: %w", err)
		}
		for _, obj := range page.Contents {
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: obj.Key}); err != nil {
				return fmt.Errorf("logstore: s3 delete: %w", err)
			}
		}
	}
	return nil
}

func (s *S3LogStore) PresignedUploadURL(ctx context.Context, runID, filename, contentType string, expiresIn time.Duration) (*PresignedUpload, error) {
	key := s.key(runID, filename)
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(expiresIn))
	if err != nil {
		return nil, fmt.Errorf("logstore: presign upload: %w", err)
	}
	return &PresignedUpload{URL: req.URL, Path: key, FinalURL: req.URL, Headers: req.SignedHeader}, nil
}

func (s *S3LogStore) PresignedDownloadURL(ctx context.Context, runID, logType string, expiresIn time.Duration) (string, error) {
	key := s.logKey(runID, logType, true)
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		key = s.logKey(runID, logType, false)
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}, s3.WithPresignExpires(expiresIn))
	if err != nil {
		return "", fmt.Errorf("logstore: presign download: %w", err)
	}
	return req.URL, nil
}

func (s *S3LogStore) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}
