package dedup

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/holiman/bloomfilter/v2"
)

// hashable64 adapts a fingerprint's leading 8 bytes to bloomfilter.Hashable.
type hashable64 uint64

func (h hashable64) Sum64() uint64 { return uint64(h) }

func fingerprintHash(fingerprint string) (hashable64, error) {
	raw, err := hex.DecodeString(fingerprint)
	if err != nil || len(raw) < 8 {
		return 0, fmt.Errorf("dedup: malformed fingerprint %q", fingerprint)
	}
	return hashable64(binary.BigEndian.Uint64(raw[:8])), nil
}

type projectFilter struct {
	mu     sync.Mutex
	filter *bloomfilter.Filter
	size   int64
	seen   map[string]struct{} // exact membership, bounds the Bloom false-positive rate for Size/AddMany bookkeeping
}

// MemoryDedup implements Store with an in-process Bloom filter per project,
// suitable for single-process development and tests. Add is serialized by a
// per-project mutex, matching the source's in-memory backend's atomicity.
type MemoryDedup struct {
	mu       sync.Mutex
	projects map[string]*projectFilter
}

func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{projects: make(map[string]*projectFilter)}
}

func (d *MemoryDedup) get(project string) *projectFilter {
	d.mu.Lock()
	defer d.mu.Unlock()
	pf, ok := d.projects[project]
	if !ok {
		f, _ := bloomfilter.NewOptimal(DefaultCapacity, DefaultErrorRate)
		pf = &projectFilter{filter: f, seen: make(map[string]struct{})}
		d.projects[project] = pf
	}
	return pf
}

func (d *MemoryDedup) EnsureStore(ctx context.Context, project string, capacity int, errorRate float64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.projects[project]; ok {
		return true, nil
	}
	f, err := bloomfilter.NewOptimal(uint64(capacity), errorRate)
	if err != nil {
		return false, fmt.Errorf("dedup: create filter: %w", err)
	}
	d.projects[project] = &projectFilter{filter: f, seen: make(map[string]struct{})}
	return true, nil
}

func (d *MemoryDedup) Exists(ctx context.Context, project, fingerprint string) (bool, error) {
	pf := d.get(project)
	h, err := fingerprintHash(fingerprint)
	if err != nil {
		return false, err
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.filter.Contains(h), nil
}

func (d *MemoryDedup) Add(ctx context.Context, project, fingerprint string) (bool, error) {
	pf := d.get(project)
	h, err := fingerprintHash(fingerprint)
	if err != nil {
		return false, err
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if pf.filter.Contains(h) {
		return false, nil
	}
	pf.filter.Add(h)
	if _, ok := pf.seen[fingerprint]; !ok {
		pf.seen[fingerprint] = struct{}{}
		pf.size++
	}
	return true, nil
}

func (d *MemoryDedup) ExistsMany(ctx context.Context, project string, fingerprints []string) ([]bool, error) {
	out := make([]bool, len(fingerprints))
	for i, fp := range fingerprints {
		exists, err := d.Exists(ctx, project, fp)
		if err != nil {
			return nil, err
		}
		out[i] = exists
	}
	return out, nil
}

func (d *MemoryDedup) AddMany(ctx context.Context, project string, fingerprints []string) ([]bool, error) {
	out := make([]bool, len(fingerprints))
	for i, fp := range fingerprints {
		added, err := d.Add(ctx, project, fp)
		if err != nil {
			return nil, err
		}
		out[i] = added
	}
	return out, nil
}

func (d *MemoryDedup) Size(ctx context.Context, project string) (int64, error) {
	pf := d.get(project)
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.size, nil
}

func (d *MemoryDedup) Clear(ctx context.Context, project string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.projects, project)
	return nil
}
