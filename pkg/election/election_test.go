package election

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestCampaignAcquiresIncreasingFencingTokens(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	e1 := NewElector(rdb, "antcode:lock:master", 200*time.Millisecond)
	term1, termCtx1, err := e1.Campaign(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, uint64(1), term1.Token)

	require.NoError(t, e1.Release(ctx))
	<-termCtx1.Done()

	e2 := NewElector(rdb, "antcode:lock:master", 200*time.Millisecond)
	term2, _, err := e2.Campaign(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, uint64(2), term2.Token)
}

func TestValidateGTEWithNoCurrentTokenIsValid(t *testing.T) {
	rdb := newTestRedis(t)
	ok, err := ValidateGTE(context.Background(), rdb, 1)
	require.NoError(t, err)
	require.True(t, ok, "no current token should validate any candidate token")
}

func TestValidateGTERejectsStaleToken(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	e := NewElector(rdb, "antcode:lock:master", 200*time.Millisecond)
	term, _, err := e.Campaign(ctx, 10*time.Millisecond)
	require.NoError(t, err)

	ok, err := ValidateGTE(ctx, rdb, term.Token)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = ValidateGTE(ctx, rdb, term.Token-1)
	require.NoError(t, err)
	require.False(t, ok, "a token below the current counter must be rejected")
}
