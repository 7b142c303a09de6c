// Package election implements distributed leader election with a monotonic
// fencing token, guaranteeing at most one active scheduler/reconciler/retry
// executor across the cluster.
package election

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/antcode/antcode/pkg/log"
	"github.com/antcode/antcode/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const fencingTokenKey = "fencing:token:master"

// releaseScript atomically deletes the lock only if it is still held by the
// caller's holder token, mirroring the source's compare-and-delete Lua script.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// renewScript atomically extends the lock's TTL only if it is still held by
// the caller's holder token.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Term represents one successful leadership acquisition.
type Term struct {
	Token    uint64
	Acquired time.Time
}

// Elector campaigns for a single well-known lock key and tracks the monotonic
// fencing token issued on each successful acquisition.
type Elector struct {
	rdb       *redis.Client
	lockKey   string
	holder    string
	ttl       time.Duration
	logger    zerolog.Logger
	lastToken uint64
}

// NewElector creates an Elector for the given lock key (e.g. "antcode:lock:master").
func NewElector(rdb *redis.Client, lockKey string, ttl time.Duration) *Elector {
	holder := make([]byte, 16)
	_, _ = rand.Read(holder)
	return &Elector{
		rdb:     rdb,
		lockKey: lockKey,
		holder:  hex.EncodeToString(holder),
		ttl:     ttl,
		logger:  log.WithComponent("election"),
	}
}

// Campaign blocks, retrying on a poll interval, until it acquires leadership,
// then returns a Term and a background context that is cancelled on stepdown
// (lock expiry without successful renewal, or ctx cancellation).
func (e *Elector) Campaign(ctx context.Context, pollInterval time.Duration) (*Term, context.Context, error) {
	for {
		ok, err := e.rdb.SetNX(ctx, e.lockKey, e.holder, e.ttl).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("leader lock acquisition failed: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	token, err := e.rdb.Incr(ctx, fencingTokenKey).Result()
	if err != nil {
		_ = e.Release(context.Background())
		return nil, nil, fmt.Errorf("fencing token acquisition failed: %w", err)
	}
	e.lastToken = uint64(token)
	metrics.LeaderIsLeader.Set(1)
	metrics.LeaderFencingToken.Set(float64(token))

	termCtx, cancel := context.WithCancel(ctx)
	go e.renewLoop(termCtx, cancel)

	e.logger.Info().Uint64("fencing_token", e.lastToken).Msg("acquired leadership")
	return &Term{Token: e.lastToken, Acquired: time.Now()}, termCtx, nil
}

func (e *Elector) renewLoop(ctx context.Context, stepDown context.CancelFunc) {
	ticker := time.NewTicker(e.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := renewScript.Run(ctx, e.rdb, []string{e.lockKey}, e.holder, e.ttl.Milliseconds()).Int()
			if err != nil || res == 0 {
				e.logger.Warn().Err(err).Msg("lock renewal failed, stepping down")
				metrics.LeaderIsLeader.Set(0)
				stepDown()
				return
			}
		}
	}
}

// Release voluntarily relinquishes leadership via the compare-and-delete script.
func (e *Elector) Release(ctx context.Context) error {
	metrics.LeaderIsLeader.Set(0)
	return releaseScript.Run(ctx, e.rdb, []string{e.lockKey}, e.holder).Err()
}

// CurrentToken returns the fencing token acquired during this elector's last term.
func (e *Elector) CurrentToken() uint64 { return e.lastToken }

// ValidateGTE reports whether token is acceptable against the current global
// fencing counter: valid if token >= current, or if no current token has ever
// been issued. This mirrors validate_token_gte's "no current token ⇒ valid" rule.
func ValidateGTE(ctx context.Context, rdb *redis.Client, token uint64) (bool, error) {
	current, err := rdb.Get(ctx, fencingTokenKey).Uint64()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return token >= current, nil
}
