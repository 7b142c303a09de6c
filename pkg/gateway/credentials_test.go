package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/antcode/antcode/pkg/identity"
	"github.com/antcode/antcode/pkg/store"
	"github.com/antcode/antcode/pkg/types"
)

func newTestCredentials(t *testing.T) *RedisCredentials {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return NewRedisCredentials(rdb, st, "antcode", time.Hour)
}

func TestConsumeAndIssueAPIKeyRoundTrips(t *testing.T) {
	creds := newTestCredentials(t)
	ctx := context.Background()

	ik := &types.InstallKey{Key: "install-1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, creds.store.CreateInstallKey(ik))

	proof := identity.BuildRegistrationProof("install-1")
	require.NoError(t, creds.Consume(ctx, "install-1", proof, "linux/amd64", "10.0.0.1", "worker-host"))

	apiKey, expiresAt, err := creds.IssueAPIKey(ctx, "worker-1")
	require.NoError(t, err)
	require.NotEmpty(t, apiKey)
	require.True(t, expiresAt.After(time.Now()))

	workerID, ok := creds.LookupAPIKey(ctx, apiKey)
	require.True(t, ok)
	require.Equal(t, "worker-1", workerID)
}

func TestConsumeRejectsAlreadyConsumedKey(t *testing.T) {
	creds := newTestCredentials(t)
	ctx := context.Background()

	ik := &types.InstallKey{Key: "install-2", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, creds.store.CreateInstallKey(ik))

	proof := identity.BuildRegistrationProof("install-2")
	require.NoError(t, creds.Consume(ctx, "install-2", proof, "", "", ""))
	require.Error(t, creds.Consume(ctx, "install-2", identity.BuildRegistrationProof("install-2"), "", "", ""))
}

func TestConsumeRejectsBadProof(t *testing.T) {
	creds := newTestCredentials(t)
	ctx := context.Background()

	ik := &types.InstallKey{Key: "install-3", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, creds.store.CreateInstallKey(ik))

	proof := identity.BuildRegistrationProof("wrong-key")
	require.Error(t, creds.Consume(ctx, "install-3", proof, "", "", ""))
}

func TestLookupAPIKeyMissReturnsFalse(t *testing.T) {
	creds := newTestCredentials(t)
	_, ok := creds.LookupAPIKey(context.Background(), "no-such-key")
	require.False(t, ok)
}
