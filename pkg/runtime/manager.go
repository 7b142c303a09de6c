package runtime

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/log"
)

// ManagerConfig configures a Manager's directories and timeouts.
type ManagerConfig struct {
	VenvsDir     string
	BuildTimeout time.Duration
	LockTimeout  time.Duration
	UVCacheDir   string
	GCPolicy     GCPolicy
	AutoGC       bool
	GCInterval   time.Duration
}

func DefaultManagerConfig(venvsDir string) ManagerConfig {
	return ManagerConfig{
		VenvsDir:     venvsDir,
		BuildTimeout: 10 * time.Minute,
		LockTimeout:  10 * time.Minute,
		GCPolicy:     DefaultGCPolicy(),
		AutoGC:       true,
		GCInterval:   time.Hour,
	}
}

// Manager is the Worker-side façade spec §4.7 describes: Prepare builds (or
// reuses) the venv a Spec resolves to and hands back a Handle; Release and
// Remove manage its lifecycle; Run GC reclaims idle environments.
type Manager struct {
	config  ManagerConfig
	builder *Builder
	lock    *Lock
	gc      *GC
	logger  zerolog.Logger

	mu         sync.Mutex
	usageCount map[string]int
	stopCh     chan struct{}
}

func NewManager(config ManagerConfig) (*Manager, error) {
	if err := os.MkdirAll(config.VenvsDir, 0o755); err != nil {
		return nil, fmt.Errorf("runtime: create venvs dir: %w", err)
	}
	builder := NewBuilder(config.VenvsDir, config.BuildTimeout, config.UVCacheDir)
	return &Manager{
		config:     config,
		builder:    builder,
		lock:       NewLock(config.LockTimeout),
		gc:         NewGC(builder, config.GCPolicy),
		logger:     log.WithComponent("runtime-manager"),
		usageCount: make(map[string]int),
	}, nil
}

// Start launches the background GC loop if AutoGC is enabled.
func (m *Manager) Start() {
	if !m.config.AutoGC {
		return
	}
	m.mu.Lock()
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()
	go m.gcLoop(stopCh)
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
}

func (m *Manager) gcLoop(stopCh chan struct{}) {
	ticker := time.NewTicker(m.config.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, _, err := m.RunGC(); err != nil {
				m.logger.Error().Err(err).Msg("runtime gc cycle failed")
			}
		case <-stopCh:
			return
		}
	}
}

// Prepare builds or reuses the venv for spec, holding the per-hash lock for
// the duration so two concurrent Prepare calls for the same spec never race
// on the same uv invocation.
func (m *Manager) Prepare(ctx context.Context, spec Spec, forceRebuild bool) (Handle, error) {
	runtimeHash := spec.Hash()

	release, ok := m.lock.Acquire(ctx, runtimeHash, 0)
	if !ok {
		return Handle{}, fmt.Errorf("runtime: could not acquire build lock for %s", runtimeHash)
	}
	defer release()

	handle, err := m.builder.Build(ctx, spec, forceRebuild)
	if err != nil {
		return Handle{}, err
	}

	m.mu.Lock()
	m.usageCount[runtimeHash]++
	m.mu.Unlock()

	return handle, nil
}

// Release decrements the usage count for handle's runtime and refreshes its
// last-used marker.
func (m *Manager) Release(handle Handle) {
	m.mu.Lock()
	if m.usageCount[handle.RuntimeHash] > 0 {
		m.usageCount[handle.RuntimeHash]--
	}
	m.mu.Unlock()
	m.builder.touchLastUsed(handle.Path)
}

// Remove deletes a runtime, refusing unless force is set if it's in use.
func (m *Manager) Remove(ctx context.Context, runtimeHash string, force bool) (bool, error) {
	if !force && m.IsInUse(runtimeHash) {
		return false, nil
	}
	release, ok := m.lock.Acquire(ctx, runtimeHash, 10*time.Second)
	if !ok {
		return false, nil
	}
	defer release()

	if err := m.builder.Remove(runtimeHash); err != nil {
		return false, err
	}
	m.mu.Lock()
	delete(m.usageCount, runtimeHash)
	m.mu.Unlock()
	return true, nil
}

func (m *Manager) List() ([]Handle, error) { return m.builder.List() }

func (m *Manager) Exists(runtimeHash string) bool { return m.builder.Exists(runtimeHash) }

func (m *Manager) IsInUse(runtimeHash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usageCount[runtimeHash] > 0
}

func (m *Manager) RunGC() (cleaned int, bytesFreed int64, err error) {
	return m.gc.Run(m.IsInUse)
}

// Stats reports the counters the source exposes through get_stats.
type Stats struct {
	RuntimeCount int
	TotalSize    int64
	ActiveCount  int
	GC           GCStats
	Lock         LockStats
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	active := 0
	for _, n := range m.usageCount {
		if n > 0 {
			active++
		}
	}
	m.mu.Unlock()

	return Stats{
		RuntimeCount: m.gc.RuntimeCount(),
		TotalSize:    m.gc.TotalSize(),
		ActiveCount:  active,
		GC:           m.gc.Stats(),
		Lock:         m.lock.Stats(),
	}
}
