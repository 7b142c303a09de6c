// Package dedup implements the URL-fingerprint deduplication store (spec §4.10's
// DedupStore): a per-project set of fingerprints with approximate membership
// semantics, backed by either a Redis-native Bloom bitfield or an in-process
// Bloom filter.
package dedup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
)

const (
	DefaultCapacity  = 1_000_000
	DefaultErrorRate = 0.001
)

// Fingerprint computes the MD5 digest of url's trimmed form, matching the
// source's calculate_url_fingerprint exactly so fingerprints are stable across
// repeated computation.
func Fingerprint(url string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(sum[:])
}

// Store is the deduplication backend contract. project scopes every operation
// to one project's fingerprint set.
type Store interface {
	// EnsureStore creates project's fingerprint set if it doesn't already
	// exist, sized for capacity items at error rate.
	EnsureStore(ctx context.Context, project string, capacity int, errorRate float64) (bool, error)

	// Exists reports whether fingerprint has (possibly) already been added.
	// A false negative never happens; a false positive may, bounded by the
	// store's configured error rate.
	Exists(ctx context.Context, project, fingerprint string) (bool, error)

	// Add inserts fingerprint, returning true if it was newly added and
	// false if it (probably) already existed. Atomic per fingerprint.
	Add(ctx context.Context, project, fingerprint string) (bool, error)

	ExistsMany(ctx context.Context, project string, fingerprints []string) ([]bool, error)

	// AddMany adds every fingerprint, returning a per-fingerprint added flag
	// in the same order as the input.
	AddMany(ctx context.Context, project string, fingerprints []string) ([]bool, error)

	Size(ctx context.Context, project string) (int64, error)

	// Clear discards project's fingerprint set entirely.
	Clear(ctx context.Context, project string) error
}
