// Package retry implements the Master's retry-and-compensation loop (spec
// §4.4): per-TaskRun failure handling that either schedules a delayed retry
// or, once retries are exhausted, runs the registered compensation handler.
// The package does not write TaskRun state itself.
package retry

import (
	"strings"
	"time"
)

// Strategy selects how delay grows between retry attempts.
type Strategy int

const (
	StrategyFixed Strategy = iota
	StrategyExponential
	StrategyLinear
	StrategyCustom
)

func (s Strategy) String() string {
	switch s {
	case StrategyFixed:
		return "fixed"
	case StrategyExponential:
		return "exponential"
	case StrategyLinear:
		return "linear"
	case StrategyCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// CompensationType names the action taken once retries are exhausted.
type CompensationType int

const (
	CompensationRollback CompensationType = iota
	CompensationCleanup
	CompensationNotify
	CompensationRetryLater
	CompensationSkip
)

func (c CompensationType) String() string {
	switch c {
	case CompensationRollback:
		return "rollback"
	case CompensationCleanup:
		return "cleanup"
	case CompensationNotify:
		return "notify"
	case CompensationRetryLater:
		return "retry_later"
	case CompensationSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Config controls retry eligibility and delay computation for one Task.
type Config struct {
	MaxRetries           int
	Strategy             Strategy
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	Multiplier           float64
	Jitter               bool
	RetryableErrors      []string
	NonRetryableErrors   []string
}

// DefaultConfig mirrors the source's RetryConfig defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		Strategy:   StrategyExponential,
		BaseDelay:  60 * time.Second,
		MaxDelay:   time.Hour,
		Multiplier: 2.0,
		Jitter:     true,
		NonRetryableErrors: []string{
			"AuthenticationError",
			"PermissionDenied",
			"InvalidConfiguration",
		},
	}
}

// ShouldRetry reports whether another attempt is warranted, given the error
// message and how many attempts have already been made.
func (c Config) ShouldRetry(errMsg string, retryCount int) bool {
	if retryCount >= c.MaxRetries {
		return false
	}
	lower := strings.ToLower(errMsg)
	for _, nonRetryable := range c.NonRetryableErrors {
		if strings.Contains(lower, strings.ToLower(nonRetryable)) {
			return false
		}
	}
	if len(c.RetryableErrors) > 0 {
		for _, retryable := range c.RetryableErrors {
			if strings.Contains(lower, strings.ToLower(retryable)) {
				return true
			}
		}
		return false
	}
	return true
}
