package fetch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCacheGetMissReturnsFalse(t *testing.T) {
	c, err := NewCache(t.TempDir(), 10, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("nope"); ok {
		t.Fatal("expected a miss for an unknown key")
	}
}

func TestCachePutThenGetRoundTrips(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCache(dir, 10, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	localDir := filepath.Join(dir, "proj-a", "cachekey")
	os.MkdirAll(localDir, 0o755)

	c.Put(CacheEntry{CacheKey: "k1", ProjectID: "proj-a", LocalPath: localDir, CreatedAt: time.Now(), LastAccess: time.Now()})

	got, ok := c.Get("k1")
	if !ok {
		t.Fatal("expected a hit after Put")
	}
	if got != localDir {
		t.Fatalf("expected %s, got %s", localDir, got)
	}
}

func TestCacheExpiresEntriesPastTTL(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCache(dir, 10, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	localDir := filepath.Join(dir, "proj-b", "cachekey")
	os.MkdirAll(localDir, 0o755)
	c.Put(CacheEntry{CacheKey: "k2", LocalPath: localDir, CreatedAt: time.Now().Add(-time.Hour), LastAccess: time.Now()})

	if _, ok := c.Get("k2"); ok {
		t.Fatal("expected the entry to be expired")
	}
}

func TestCacheEvictsLeastRecentlyAccessedWhenFull(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCache(dir, 2, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	mkEntry := func(key string) CacheEntry {
		p := filepath.Join(dir, key)
		os.MkdirAll(p, 0o755)
		return CacheEntry{CacheKey: key, LocalPath: p, CreatedAt: time.Now(), LastAccess: time.Now()}
	}

	e1 := mkEntry("old")
	e1.LastAccess = time.Now().Add(-time.Hour)
	c.Put(e1)
	c.Put(mkEntry("mid"))
	c.Put(mkEntry("new"))

	if _, ok := c.Get("old"); ok {
		t.Fatal("expected the oldest entry to have been evicted")
	}
}

func TestCacheReloadsIndexFromDisk(t *testing.T) {
	dir := t.TempDir()
	c1, err := NewCache(dir, 10, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	localDir := filepath.Join(dir, "proj-c")
	os.MkdirAll(localDir, 0o755)
	c1.Put(CacheEntry{CacheKey: "k3", LocalPath: localDir, CreatedAt: time.Now(), LastAccess: time.Now()})

	c2, err := NewCache(dir, 10, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c2.Get("k3"); !ok {
		t.Fatal("expected a fresh Cache over the same dir to reload the persisted index")
	}
}
