// Package fetch implements project artifact retrieval: a download keyed by
// project_id and file_hash, an on-disk cache with TTL/LRU eviction, and
// traversal- and symlink-guarded archive extraction.
package fetch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/log"
)

const cacheIndexFile = "index.json"

// CacheEntry records where a previously fetched project artifact lives.
type CacheEntry struct {
	CacheKey   string    `json:"cache_key"`
	ProjectID  string    `json:"project_id"`
	FileHash   string    `json:"file_hash"`
	LocalPath  string    `json:"local_path"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
	SizeBytes  int64     `json:"size_bytes"`
}

// Cache is a JSON-indexed, TTL- and LRU-bounded directory of fetched project
// artifacts. One process's Cache is safe for concurrent use.
type Cache struct {
	dir        string
	maxEntries int
	ttl        time.Duration
	logger     zerolog.Logger

	mu      sync.Mutex
	entries map[string]CacheEntry
}

func NewCache(dir string, maxEntries int, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	c := &Cache{
		dir:        dir,
		maxEntries: maxEntries,
		ttl:        ttl,
		logger:     log.WithComponent("fetch-cache"),
		entries:    make(map[string]CacheEntry),
	}
	c.loadIndex()
	return c, nil
}

func (c *Cache) indexPath() string { return filepath.Join(c.dir, cacheIndexFile) }

func (c *Cache) loadIndex() {
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		return
	}
	var entries map[string]CacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn().Err(err).Msg("failed to parse project cache index, starting empty")
		return
	}
	c.entries = entries
}

// saveIndex must be called with mu held.
func (c *Cache) saveIndex() {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to marshal project cache index")
		return
	}
	if err := os.WriteFile(c.indexPath(), data, 0o644); err != nil {
		c.logger.Warn().Err(err).Msg("failed to write project cache index")
	}
}

// Get returns the cached local path for cacheKey, or ok=false if absent,
// expired, or the backing directory was removed out from under the index.
func (c *Cache) Get(cacheKey string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[cacheKey]
	if !ok {
		return "", false
	}
	if c.ttl > 0 && time.Since(entry.CreatedAt) > c.ttl {
		delete(c.entries, cacheKey)
		c.saveIndex()
		return "", false
	}
	if _, err := os.Stat(entry.LocalPath); err != nil {
		delete(c.entries, cacheKey)
		c.saveIndex()
		return "", false
	}

	entry.LastAccess = time.Now()
	c.entries[cacheKey] = entry
	c.saveIndex()
	return entry.LocalPath, true
}

// Put records entry, evicting the least-recently-accessed entries first if
// this would push the cache past maxEntries.
func (c *Cache) Put(entry CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[entry.CacheKey] = entry
	c.saveIndex()
}

func (c *Cache) evictLocked() {
	if len(c.entries) == 0 {
		return
	}
	ordered := make([]CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].LastAccess.Before(ordered[j].LastAccess)
	})
	evictCount := len(c.entries) - c.maxEntries + 1
	if evictCount < 1 {
		evictCount = 1
	}
	for i := 0; i < evictCount && i < len(ordered); i++ {
		delete(c.entries, ordered[i].CacheKey)
	}
}

// Dir is the cache's root directory.
func (c *Cache) Dir() string { return c.dir }
