package retry

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Delay computes how long to wait before retry attempt number retryCount
// (0-indexed), per the configured strategy, clamped to MaxDelay.
func (c Config) Delay(retryCount int) time.Duration {
	var delay time.Duration
	switch c.Strategy {
	case StrategyFixed:
		delay = c.BaseDelay
	case StrategyExponential:
		delay = exponentialDelay(retryCount, c.BaseDelay, c.MaxDelay, c.Multiplier, c.Jitter)
		return delay // jitter already applied by backoff's RandomizationFactor
	case StrategyLinear:
		delay = c.BaseDelay * time.Duration(retryCount+1)
	default:
		delay = c.BaseDelay
	}

	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	if c.Jitter {
		delay = applyJitter(delay)
	}
	return delay
}

func applyJitter(delay time.Duration) time.Duration {
	jitterRange := float64(delay) * 0.1
	offset := (rand.Float64()*2 - 1) * jitterRange
	result := time.Duration(float64(delay) + offset)
	if result < 0 {
		result = 0
	}
	return result
}

// exponentialDelay uses backoff.ExponentialBackOff to grow the interval,
// rather than hand-rolling base*multiplier^n, advancing it retryCount+1
// times from a fresh backoff so each retry count maps deterministically (up
// to the library's own jitter) to one interval.
func exponentialDelay(retryCount int, base, max time.Duration, multiplier float64, jitter bool) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = multiplier
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	if jitter {
		b.RandomizationFactor = 0.1
	} else {
		b.RandomizationFactor = 0
	}
	b.Reset()

	var d time.Duration
	for i := 0; i <= retryCount; i++ {
		d = b.NextBackOff()
	}
	if d > max {
		d = max
	}
	if d < 0 {
		d = max
	}
	return d
}
