package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/antcode/antcode/pkg/identity"
	"github.com/antcode/antcode/pkg/store"
)

// RedisCredentials implements both CredentialStore and InstallKeyStore over
// a shared store.Store for InstallKey bookkeeping and a Redis hash for the
// API keys it mints, so a Worker's key survives a Gateway restart without
// needing its own database.
type RedisCredentials struct {
	rdb         *redis.Client
	store       store.Store
	namespace   string
	keyTTL      time.Duration
	maxProofAge time.Duration
}

func NewRedisCredentials(rdb *redis.Client, st store.Store, namespace string, keyTTL time.Duration) *RedisCredentials {
	if keyTTL <= 0 {
		keyTTL = 30 * 24 * time.Hour
	}
	return &RedisCredentials{rdb: rdb, store: st, namespace: namespace, keyTTL: keyTTL, maxProofAge: 5 * time.Minute}
}

func (c *RedisCredentials) apiKeysKey() string { return c.namespace + ":gateway:apikeys" }

// Consume validates proof against the InstallKey identified by key, checking
// OS/source binding and expiry, and marks it consumed on success.
func (c *RedisCredentials) Consume(ctx context.Context, key string, proof identity.RegistrationProof, osArch, remoteIP, hostname string) error {
	ik, err := c.store.GetInstallKey(key)
	if err != nil {
		return fmt.Errorf("unknown install key: %w", err)
	}
	if ik.Consumed {
		return fmt.Errorf("install key already consumed")
	}
	if time.Now().After(ik.ExpiresAt) {
		return fmt.Errorf("install key expired at %s", ik.ExpiresAt)
	}
	if err := identity.VerifyRegistrationProof(key, proof, c.maxProofAge); err != nil {
		return err
	}
	if !identity.MatchesOSBinding(ik.OSBinding, osArch) {
		return fmt.Errorf("install key is bound to os/arch %q", ik.OSBinding)
	}
	if !identity.MatchesSourceBinding(ik.SourceCIDR, ik.SourceHost, remoteIP, hostname) {
		return fmt.Errorf("install key is bound to a different source")
	}
	return c.store.ConsumeInstallKey(key, "")
}

// IssueAPIKey mints a random API key bound to workerID, storing it in the
// Redis lookup hash so LookupAPIKey survives a Gateway restart.
func (c *RedisCredentials) IssueAPIKey(ctx context.Context, workerID string) (string, time.Time, error) {
	apiKey := uuid.NewString()
	expiresAt := time.Now().Add(c.keyTTL)

	if err := c.rdb.HSet(ctx, c.apiKeysKey(), apiKey, workerID).Err(); err != nil {
		return "", time.Time{}, fmt.Errorf("store api key: %w", err)
	}
	return apiKey, expiresAt, nil
}

// LookupAPIKey resolves an API key to the Worker ID it was issued to.
func (c *RedisCredentials) LookupAPIKey(ctx context.Context, apiKey string) (string, bool) {
	workerID, err := c.rdb.HGet(ctx, c.apiKeysKey(), apiKey).Result()
	if err != nil || workerID == "" {
		return "", false
	}
	return workerID, true
}
