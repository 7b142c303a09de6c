package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldRetryStopsAtMaxRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	require.True(t, cfg.ShouldRetry("timeout", 0))
	require.True(t, cfg.ShouldRetry("timeout", 1))
	require.False(t, cfg.ShouldRetry("timeout", 2))
}

func TestShouldRetryRejectsNonRetryableErrors(t *testing.T) {
	cfg := DefaultConfig()
	require.False(t, cfg.ShouldRetry("AuthenticationError: bad token", 0))
	require.False(t, cfg.ShouldRetry("permissiondenied for resource", 0))
}

func TestShouldRetryHonorsExplicitAllowlist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryableErrors = []string{"ConnectionReset"}
	require.True(t, cfg.ShouldRetry("ConnectionReset by peer", 0))
	require.False(t, cfg.ShouldRetry("some other error", 0))
}

func TestDelayFixedStrategyIsConstant(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyFixed
	cfg.Jitter = false
	require.Equal(t, cfg.BaseDelay, cfg.Delay(0))
	require.Equal(t, cfg.BaseDelay, cfg.Delay(5))
}

func TestDelayLinearStrategyGrowsByAttempt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyLinear
	cfg.Jitter = false
	cfg.MaxDelay = time.Hour
	require.Equal(t, cfg.BaseDelay, cfg.Delay(0))
	require.Equal(t, 2*cfg.BaseDelay, cfg.Delay(1))
	require.Equal(t, 3*cfg.BaseDelay, cfg.Delay(2))
}

func TestDelayExponentialStrategyGrowsAndRespectsMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyExponential
	cfg.Jitter = false
	cfg.BaseDelay = time.Second
	cfg.MaxDelay = 10 * time.Second
	cfg.Multiplier = 2.0

	d0 := cfg.Delay(0)
	d1 := cfg.Delay(1)
	require.True(t, d1 >= d0, "exponential delay must not shrink with more attempts")
	require.LessOrEqual(t, cfg.Delay(10), cfg.MaxDelay)
}

func TestStrategyAndCompensationTypeStringers(t *testing.T) {
	require.Equal(t, "exponential", StrategyExponential.String())
	require.Equal(t, "rollback", CompensationRollback.String())
}
