package runtime

import (
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/log"
)

// GCPolicy bounds how long an idle runtime may live and how many runtimes
// may exist at once, mirroring the source's GCConfig (trimmed to the fields
// this spec actually exercises: log/temp TTLs belong to the log archiver
// and executor tmp dirs, not this package).
type GCPolicy struct {
	EnvTTL       time.Duration
	MaxEnvs      int
	AutoGC       bool
}

func DefaultGCPolicy() GCPolicy {
	return GCPolicy{EnvTTL: 7 * 24 * time.Hour, MaxEnvs: 100, AutoGC: true}
}

// GCStats accumulates across every Run call for the process lifetime.
type GCStats struct {
	LastGCTime     time.Time
	TotalGCRuns    int64
	TotalCleaned   int64
	TotalBytesFreed int64
}

// GC reclaims runtimes under a Builder's venvsDir that have exceeded the
// policy's TTL or that push the total count over MaxEnvs (oldest first),
// skipping any runtime a caller reports as currently in use.
type GC struct {
	builder *Builder
	policy  GCPolicy
	logger  zerolog.Logger
	stats   GCStats
}

func NewGC(builder *Builder, policy GCPolicy) *GC {
	return &GC{builder: builder, policy: policy, logger: log.WithComponent("runtime-gc")}
}

// Run performs one GC pass. inUse reports whether a runtime_hash is
// currently held by a Handle and must not be removed regardless of age.
func (g *GC) Run(inUse func(runtimeHash string) bool) (cleaned int, bytesFreed int64, err error) {
	handles, err := g.builder.List()
	if err != nil {
		return 0, 0, err
	}

	type aged struct {
		Handle
		lastUsed time.Time
		size     int64
	}
	var candidates []aged
	now := time.Now()
	for _, h := range handles {
		if inUse(h.RuntimeHash) {
			continue
		}
		lastUsed, ok := g.builder.lastUsed(h.Path)
		if !ok {
			lastUsed = now
		}
		size := dirSize(h.Path)
		candidates = append(candidates, aged{Handle: h, lastUsed: lastUsed, size: size})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].lastUsed.Before(candidates[j].lastUsed) })

	toRemove := make(map[string]aged)
	for _, c := range candidates {
		if now.Sub(c.lastUsed) > g.policy.EnvTTL {
			toRemove[c.RuntimeHash] = c
		}
	}
	remaining := len(candidates) - len(toRemove)
	if g.policy.MaxEnvs > 0 && remaining > g.policy.MaxEnvs {
		for _, c := range candidates {
			if _, already := toRemove[c.RuntimeHash]; already {
				continue
			}
			toRemove[c.RuntimeHash] = c
			remaining--
			if remaining <= g.policy.MaxEnvs {
				break
			}
		}
	}

	for hash, c := range toRemove {
		if err := g.builder.Remove(hash); err != nil {
			g.logger.Error().Err(err).Str("runtime_hash", hash).Msg("gc: failed to remove runtime")
			continue
		}
		cleaned++
		bytesFreed += c.size
	}

	g.stats.LastGCTime = now
	g.stats.TotalGCRuns++
	g.stats.TotalCleaned += int64(cleaned)
	g.stats.TotalBytesFreed += bytesFreed

	if cleaned > 0 {
		g.logger.Info().Int("cleaned", cleaned).Int64("bytes_freed", bytesFreed).Msg("runtime gc completed")
	}
	return cleaned, bytesFreed, nil
}

func (g *GC) Stats() GCStats { return g.stats }

func (g *GC) RuntimeCount() int {
	handles, _ := g.builder.List()
	return len(handles)
}

func (g *GC) TotalSize() int64 {
	handles, _ := g.builder.List()
	var total int64
	for _, h := range handles {
		total += dirSize(h.Path)
	}
	return total
}

func dirSize(path string) int64 {
	var total int64
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		full := path + string(os.PathSeparator) + e.Name()
		if e.IsDir() {
			total += dirSize(full)
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}
	return total
}
