package fetch

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/errkind"
	"github.com/antcode/antcode/pkg/log"
)

var unsafeSlugChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Fetcher retrieves a project artifact named by a download URL, verifies its
// hash, extracts it if it's an archive, and caches the result keyed by
// project_id and file_hash so a repeat dispatch for the same project/version
// skips the download and extraction entirely.
type Fetcher struct {
	cache      *Cache
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewFetcher(cache *Cache) *Fetcher {
	return &Fetcher{
		cache:      cache,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     log.WithComponent("fetch-fetcher"),
	}
}

// Fetch returns the local path a project's code now lives at: either the
// archive's extraction directory, or (for a single uncompressed file) a
// directory containing just that file under its entry point name.
func (f *Fetcher) Fetch(ctx context.Context, projectID, downloadURL, fileHash string, isCompressed *bool, entryPoint string) (string, error) {
	cacheKey := f.cacheKey(projectID, fileHash, downloadURL)
	if cached, ok := f.cache.Get(cacheKey); ok {
		return cached, nil
	}

	projectDir := f.projectDir(projectID, cacheKey)
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return "", err
	}

	filename := guessFilename(downloadURL)
	filePath := filepath.Join(projectDir, filename)

	if err := f.download(ctx, downloadURL, filePath); err != nil {
		return "", errkind.Wrap(errkind.KindTransient, err)
	}

	if fileHash != "" {
		actual, err := hashFile(filePath, detectHashAlgo(fileHash))
		if err != nil {
			return "", err
		}
		if !strings.EqualFold(actual, fileHash) {
			return "", errkind.Wrap(errkind.KindIntegrity, fmt.Errorf("fetch: project file hash mismatch: expected %s, got %s", fileHash, actual))
		}
	}

	shouldExtract := isArchive(filename)
	if isCompressed != nil && !*isCompressed {
		shouldExtract = false
	}

	var finalPath string
	if shouldExtract {
		extractDir := filepath.Join(projectDir, "extracted")
		if err := os.MkdirAll(extractDir, 0o755); err != nil {
			return "", err
		}
		if err := extractArchive(filePath, extractDir); err != nil {
			_ = os.RemoveAll(extractDir)
			return "", err
		}
		finalPath = extractDir
	} else {
		extractDir := filepath.Join(projectDir, "extracted")
		if err := os.MkdirAll(extractDir, 0o755); err != nil {
			return "", err
		}
		targetName := entryPoint
		if targetName == "" {
			targetName = filename
		}
		if err := copyFile(filePath, filepath.Join(extractDir, targetName)); err != nil {
			return "", err
		}
		finalPath = extractDir
	}

	info, _ := os.Stat(filePath)
	var size int64
	if info != nil {
		size = info.Size()
	}

	f.cache.Put(CacheEntry{
		CacheKey:   cacheKey,
		ProjectID:  projectID,
		FileHash:   fileHash,
		LocalPath:  finalPath,
		CreatedAt:  time.Now(),
		LastAccess: time.Now(),
		SizeBytes:  size,
	})
	return finalPath, nil
}

func (f *Fetcher) cacheKey(projectID, fileHash, downloadURL string) string {
	safeProject := safeSlug(projectID)
	if fileHash != "" {
		return safeProject + ":" + fileHash
	}
	sum := sha256.Sum256([]byte(downloadURL))
	return safeProject + ":" + hex.EncodeToString(sum[:])[:16]
}

func (f *Fetcher) projectDir(projectID, cacheKey string) string {
	return filepath.Join(f.cache.Dir(), safeSlug(projectID), safeSlug(cacheKey))
}

func (f *Fetcher) download(ctx context.Context, rawURL, destPath string) error {
	if strings.HasPrefix(rawURL, "file://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return err
		}
		src := u.Path
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("fetch: local source file not found: %s", src)
		}
		return copyFile(src, destPath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("fetch: download %s: status %d", rawURL, resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}

func safeSlug(value string) string {
	return unsafeSlugChars.ReplaceAllString(value, "_")
}

func guessFilename(rawURL string) string {
	clean := strings.SplitN(rawURL, "?", 2)[0]
	clean = strings.SplitN(clean, "#", 2)[0]
	clean = strings.TrimRight(clean, "/")
	parts := strings.Split(clean, "/")
	name := parts[len(parts)-1]
	if name == "" {
		return "project.zip"
	}
	return name
}

func detectHashAlgo(fileHash string) string {
	switch len(fileHash) {
	case 32:
		return "md5"
	default:
		return "sha256"
	}
}

func hashFile(path, algo string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var h hash.Hash
	if algo == "md5" {
		h = md5.New()
	} else {
		h = sha256.New()
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
