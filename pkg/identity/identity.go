// Package identity manages a Worker's stable identity (worker_id, labels,
// zone) persisted as YAML, and its secrets (API key, mTLS certs, tokens)
// loaded from a secrets directory with environment-variable fallback. Both
// watch their backing files with fsnotify and reload in place, generalizing
// the source's SIGHUP handler into a filesystem-event model.
package identity

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/antcode/antcode/pkg/log"
)

// Identity is a Worker's persisted, cross-restart-stable identity.
type Identity struct {
	WorkerID  string            `yaml:"worker_id"`
	Labels    map[string]string `yaml:"labels"`
	Zone      string            `yaml:"zone"`
	Hostname  string            `yaml:"hostname"`
	IP        string            `yaml:"ip"`
	Version   string            `yaml:"version"`
	CreatedAt time.Time         `yaml:"created_at"`
}

// MatchesLabels reports whether id carries every key/value in required.
func (id Identity) MatchesLabels(required map[string]string) bool {
	for k, v := range required {
		if id.Labels[k] != v {
			return false
		}
	}
	return true
}

func loadIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var id Identity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("identity: parse %s: %w", path, err)
	}
	if id.WorkerID == "" {
		return nil, fmt.Errorf("identity: %s has no worker_id", path)
	}
	return &id, nil
}

func (id Identity) save(path string) error {
	data, err := yaml.Marshal(id)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func generateIdentity(zone string, labels map[string]string, version string) Identity {
	if labels == nil {
		labels = map[string]string{}
	}
	return Identity{
		WorkerID:  "w-" + uuid.NewString(),
		Labels:    labels,
		Zone:      zone,
		Hostname:  localHostname(),
		IP:        localIP(),
		Version:   version,
		CreatedAt: time.Now(),
	}
}

func localHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

// Manager owns the Worker's Identity, persisting it at path and reloading it
// whenever the file changes on disk (worker_id never changes across a
// reload, even if the file on disk names a different one - stale writes are
// corrected back to the in-memory ID).
type Manager struct {
	path     string
	zone     string
	labels   map[string]string
	version  string
	onReload func(Identity)
	logger   zerolog.Logger

	mu       sync.RWMutex
	identity Identity

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

type Option func(*Manager)

func WithOnReload(fn func(Identity)) Option { return func(m *Manager) { m.onReload = fn } }

// NewManager loads path if it exists, or generates and persists a fresh
// Identity otherwise.
func NewManager(path, zone string, labels map[string]string, version string, opts ...Option) (*Manager, error) {
	m := &Manager{
		path:    path,
		zone:    zone,
		labels:  labels,
		version: version,
		logger:  log.WithComponent("identity"),
	}
	for _, opt := range opts {
		opt(m)
	}

	if existing, err := loadIdentity(path); err == nil {
		existing.Zone = zone
		existing.Version = version
		existing.Hostname = localHostname()
		existing.IP = localIP()
		for k, v := range labels {
			if existing.Labels == nil {
				existing.Labels = map[string]string{}
			}
			existing.Labels[k] = v
		}
		if err := existing.save(path); err != nil {
			m.logger.Warn().Err(err).Msg("failed to persist refreshed identity")
		}
		m.identity = *existing
	} else {
		id := generateIdentity(zone, labels, version)
		if err := id.save(path); err != nil {
			return nil, fmt.Errorf("identity: persist generated identity: %w", err)
		}
		m.identity = id
		m.logger.Info().Str("worker_id", id.WorkerID).Msg("generated new worker identity")
	}

	return m, nil
}

// Identity returns the current, possibly reloaded Identity.
func (m *Manager) Identity() Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

func (m *Manager) WorkerID() string { return m.Identity().WorkerID }

// Watch starts an fsnotify watch on the identity file, reloading on any
// write event. Call Stop to release the watcher.
func (m *Manager) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.path); err != nil {
		watcher.Close()
		return err
	}
	m.watcher = watcher
	m.stopCh = make(chan struct{})

	go m.watchLoop()
	return nil
}

func (m *Manager) watchLoop() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				m.Reload()
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn().Err(err).Msg("identity file watch error")
		case <-m.stopCh:
			return
		}
	}
}

// Stop releases the fsnotify watcher, if one was started.
func (m *Manager) Stop() {
	if m.watcher == nil {
		return
	}
	close(m.stopCh)
	m.watcher.Close()
}

// Reload re-reads the identity file from disk, keeping the in-memory
// worker_id even if the file names a different one (a stale or
// externally-edited file must never change a running Worker's identity).
func (m *Manager) Reload() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := loadIdentity(m.path)
	if err != nil {
		m.logger.Warn().Err(err).Msg("identity reload failed, keeping current identity")
		return m.identity
	}
	if next.WorkerID != m.identity.WorkerID {
		m.logger.Warn().
			Str("current_worker_id", m.identity.WorkerID).
			Str("file_worker_id", next.WorkerID).
			Msg("identity file's worker_id changed, ignoring and keeping current ID")
		next.WorkerID = m.identity.WorkerID
	}
	m.identity = *next
	m.logger.Info().Str("worker_id", m.identity.WorkerID).Msg("identity reloaded")

	if m.onReload != nil {
		m.onReload(m.identity)
	}
	return m.identity
}

// UpdateLabels merges labels into the current identity and persists it.
func (m *Manager) UpdateLabels(labels map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity.Labels == nil {
		m.identity.Labels = map[string]string{}
	}
	for k, v := range labels {
		m.identity.Labels[k] = v
	}
	return m.identity.save(m.path)
}
