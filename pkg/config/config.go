// Package config loads immutable, role-scoped configuration from environment
// variables and an optional .env file at boot. Configuration is never
// re-read from the environment after the composition root constructs it.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// Common holds configuration shared by Master, Gateway, and Worker.
type Common struct {
	RedisURL       string        `mapstructure:"redis_url"`
	RedisNamespace string        `mapstructure:"redis_namespace"`
	DatabaseURL    string        `mapstructure:"database_url"`
	LogLevel       string        `mapstructure:"log_level"`
	LogJSON        bool          `mapstructure:"log_json"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	TaskTimeoutCap time.Duration `mapstructure:"task_timeout_cap"`
}

// MasterConfig configures the Master role.
type MasterConfig struct {
	Common           `mapstructure:",squash"`
	LockKey          string        `mapstructure:"lock_key"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	ScheduleInterval time.Duration `mapstructure:"schedule_interval"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	HeartbeatOffline time.Duration `mapstructure:"heartbeat_offline"`
	ZombiePendingAge time.Duration `mapstructure:"zombie_pending_age"`
	// DispatchSigningKey HMAC-signs every QueuedTask this Master enqueues.
	// Empty disables dispatch authentication (local/dev Direct-mode only).
	DispatchSigningKey string `mapstructure:"dispatch_signing_key"`
}

// GatewayConfig configures the Gateway role.
type GatewayConfig struct {
	Common        `mapstructure:",squash"`
	GRPCAddr      string `mapstructure:"grpc_addr"`
	HTTPAddr      string `mapstructure:"http_addr"`
	TLSCertFile   string `mapstructure:"tls_cert_file"`
	TLSKeyFile    string `mapstructure:"tls_key_file"`
	TLSCAFile     string `mapstructure:"tls_ca_file"`
	RequireMTLS   bool   `mapstructure:"require_mtls"`
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
}

// WorkerConfig configures the Worker role.
type WorkerConfig struct {
	Common          `mapstructure:",squash"`
	WorkerID        string        `mapstructure:"worker_id"`
	TransportMode   string        `mapstructure:"transport_mode"` // "direct" | "gateway"
	GatewayAddr     string        `mapstructure:"gateway_addr"`
	IdentityFile    string        `mapstructure:"identity_file"`
	SecretsDir      string        `mapstructure:"secrets_dir"`
	VenvsDir        string        `mapstructure:"venvs_dir"`
	LocksDir        string        `mapstructure:"locks_dir"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	BatchSize       int           `mapstructure:"batch_size"`
	PollBlockMS     int           `mapstructure:"poll_block_ms"`
	HeartbeatPeriod time.Duration `mapstructure:"heartbeat_period"`
	// ReadyStreams is loaded and defaulted here but not passed to the Worker
	// engine, which polls the ready stream derived from its Worker ID.
	ReadyStreams []string `mapstructure:"ready_streams"`
	GCInterval   time.Duration `mapstructure:"gc_interval"`
	RuntimeTTL   time.Duration `mapstructure:"runtime_ttl"`
	// DispatchSigningKey verifies the HMAC signature on each QueuedTask
	// this Worker polls; must match the dispatching Master's key.
	DispatchSigningKey string `mapstructure:"dispatch_signing_key"`
}

func newViper(envPrefix string) *viper.Viper {
	_ = godotenv.Load() // best effort; absence of .env is not an error

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetDefault("redis_url", "redis://127.0.0.1:6379/0")
	v.SetDefault("redis_namespace", "antcode")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("task_timeout_cap", "1h")
	return v
}

// LoadMaster loads MasterConfig from ANTCODE_-prefixed environment variables.
func LoadMaster() (*MasterConfig, error) {
	v := newViper("antcode")
	v.SetDefault("lock_key", "master")
	v.SetDefault("lock_ttl", "30s")
	v.SetDefault("schedule_interval", "5s")
	v.SetDefault("reconcile_interval", "10s")
	v.SetDefault("retry_interval", "5s")
	v.SetDefault("heartbeat_offline", "60s")
	v.SetDefault("zombie_pending_age", "24h")

	var cfg MasterConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load master config: %w", err)
	}
	return &cfg, nil
}

// LoadGateway loads GatewayConfig from ANTCODE_-prefixed environment variables.
func LoadGateway() (*GatewayConfig, error) {
	v := newViper("antcode")
	v.SetDefault("grpc_addr", ":7443")
	v.SetDefault("http_addr", ":7080")
	v.SetDefault("require_mtls", false)

	var cfg GatewayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load gateway config: %w", err)
	}
	return &cfg, nil
}

// LoadWorker loads WorkerConfig from ANTCODE_-prefixed environment variables.
func LoadWorker() (*WorkerConfig, error) {
	v := newViper("antcode")
	v.SetDefault("transport_mode", "direct")
	v.SetDefault("identity_file", "/etc/antcode/identity.yaml")
	v.SetDefault("secrets_dir", "/etc/antcode/secrets")
	v.SetDefault("venvs_dir", "/var/lib/antcode/venvs")
	v.SetDefault("locks_dir", "/var/lib/antcode/locks")
	v.SetDefault("max_concurrent", 5)
	v.SetDefault("batch_size", 5)
	v.SetDefault("poll_block_ms", 5000)
	v.SetDefault("heartbeat_period", "5s")
	v.SetDefault("gc_interval", "1h")
	v.SetDefault("runtime_ttl", "168h") // 7 days

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load worker config: %w", err)
	}
	if len(cfg.ReadyStreams) == 0 {
		cfg.ReadyStreams = []string{
			fmt.Sprintf("%s:task:ready:%s", cfg.RedisNamespace, cfg.WorkerID),
			fmt.Sprintf("%s:task:ready", cfg.RedisNamespace),
		}
	}
	return &cfg, nil
}

// DialRedis parses a redis:// URL (as stored in Common.RedisURL) and opens a
// client against it, so every composition root shares one URL format
// instead of each hand-rolling its own host:port split.
func DialRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
