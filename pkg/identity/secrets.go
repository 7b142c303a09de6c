package identity

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/log"
)

// knownSecretFiles maps a secret key to its file base name under the
// secrets directory, per the Worker secrets-directory convention.
var knownSecretFiles = map[string]string{
	"api_key":        "api_key",
	"ca_cert":        "ca.crt",
	"client_cert":    "client.crt",
	"client_key":     "client.key",
	"gateway_token":  "gateway_token",
	"redis_password": "redis_password",
}

// Credential records one loaded secret value and where it came from, for
// diagnostics (never logged at value level).
type Credential struct {
	Key    string
	Value  string
	Source string // "file" | "env" | "default"
	Path   string
}

// SecretsManager resolves secret values with precedence file > env > default,
// caching the result until Reload is called or the secrets directory changes.
type SecretsManager struct {
	secretsDir string
	envPrefix  string
	onReload   func()
	logger     zerolog.Logger

	mu    sync.RWMutex
	cache map[string]Credential

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

type SecretsOption func(*SecretsManager)

func WithSecretsOnReload(fn func()) SecretsOption { return func(s *SecretsManager) { s.onReload = fn } }

func NewSecretsManager(secretsDir, envPrefix string, opts ...SecretsOption) *SecretsManager {
	s := &SecretsManager{
		secretsDir: secretsDir,
		envPrefix:  envPrefix,
		logger:     log.WithComponent("identity-secrets"),
		cache:      make(map[string]Credential),
	}
	for _, opt := range opts {
		opt(s)
	}
	for key := range knownSecretFiles {
		s.Get(key, "")
	}
	return s
}

func (s *SecretsManager) envKey(key string) string {
	if _, ok := knownSecretFiles[key]; ok {
		return s.envPrefix + strings.ToUpper(key)
	}
	return s.envPrefix + strings.ToUpper(key)
}

func (s *SecretsManager) loadFromFile(key string) (Credential, bool) {
	if s.secretsDir == "" {
		return Credential{}, false
	}
	base, ok := knownSecretFiles[key]
	if !ok {
		base = key
	}
	path := filepath.Join(s.secretsDir, base)
	data, err := os.ReadFile(path)
	if err != nil {
		return Credential{}, false
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return Credential{}, false
	}
	return Credential{Key: key, Value: value, Source: "file", Path: path}, true
}

func (s *SecretsManager) loadFromEnv(key string) (Credential, bool) {
	value := os.Getenv(s.envKey(key))
	if value == "" {
		return Credential{}, false
	}
	return Credential{Key: key, Value: value, Source: "env"}, true
}

// Get returns the secret's value, trying the cache, then the secrets
// directory file, then the environment variable, then defaultValue.
func (s *SecretsManager) Get(key, defaultValue string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cache[key]; ok {
		return c.Value
	}
	if c, ok := s.loadFromFile(key); ok {
		s.cache[key] = c
		return c.Value
	}
	if c, ok := s.loadFromEnv(key); ok {
		s.cache[key] = c
		return c.Value
	}
	if defaultValue != "" {
		s.cache[key] = Credential{Key: key, Value: defaultValue, Source: "default"}
	}
	return defaultValue
}

func (s *SecretsManager) GetCredential(key string) (Credential, bool) {
	s.Get(key, "")
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cache[key]
	return c, ok
}

func (s *SecretsManager) APIKey() string       { return s.Get("api_key", "") }
func (s *SecretsManager) GatewayToken() string { return s.Get("gateway_token", "") }
func (s *SecretsManager) RedisPassword() string { return s.Get("redis_password", "") }

// CACertPath returns the path to a PEM-encoded CA certificate, preferring
// the secrets directory file over an env-provided path.
func (s *SecretsManager) CACertPath() string {
	if s.secretsDir != "" {
		p := filepath.Join(s.secretsDir, "ca.crt")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return s.Get("ca_cert", "")
}

// ClientCertPaths returns (cert, key) paths for mTLS, or ok=false if either
// is missing.
func (s *SecretsManager) ClientCertPaths() (cert, key string, ok bool) {
	if s.secretsDir != "" {
		certPath := filepath.Join(s.secretsDir, "client.crt")
		keyPath := filepath.Join(s.secretsDir, "client.key")
		_, certErr := os.Stat(certPath)
		_, keyErr := os.Stat(keyPath)
		if certErr == nil {
			cert = certPath
		}
		if keyErr == nil {
			key = keyPath
		}
	}
	if cert == "" {
		cert = s.Get("client_cert", "")
	}
	if key == "" {
		key = s.Get("client_key", "")
	}
	return cert, key, cert != "" && key != ""
}

func (s *SecretsManager) HasMTLSCerts() bool {
	_, _, ok := s.ClientCertPaths()
	return s.CACertPath() != "" && ok
}

// Reload clears the cache and re-resolves every known secret.
func (s *SecretsManager) Reload() {
	s.mu.Lock()
	s.cache = make(map[string]Credential)
	s.mu.Unlock()

	for key := range knownSecretFiles {
		s.Get(key, "")
	}
	s.logger.Info().Msg("secrets reloaded")
	if s.onReload != nil {
		s.onReload()
	}
}

// Watch starts an fsnotify watch on the secrets directory, reloading on any
// write/create/remove event.
func (s *SecretsManager) Watch() error {
	if s.secretsDir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.secretsDir); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher
	s.stopCh = make(chan struct{})
	go s.watchLoop()
	return nil
}

func (s *SecretsManager) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 {
				s.Reload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn().Err(err).Msg("secrets directory watch error")
		case <-s.stopCh:
			return
		}
	}
}

func (s *SecretsManager) Stop() {
	if s.watcher == nil {
		return
	}
	close(s.stopCh)
	s.watcher.Close()
}
