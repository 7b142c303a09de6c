// Package transport wraps a gatewayrpc.Client in a circuit breaker so a
// Worker in Gateway mode degrades and recovers gracefully instead of
// hammering an unreachable Gateway. Direct mode (Worker talks to Redis
// Streams natively, no Gateway hop) never needs a breaker and is served by
// DirectClient in direct.go, which calls the backends in-process.
package transport

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/antcode/antcode/pkg/errkind"
	"github.com/antcode/antcode/pkg/gatewayrpc"
	"github.com/antcode/antcode/pkg/log"
)

// Settings configures the breaker guarding Gateway RPC calls.
type Settings struct {
	Name                string
	MaxRequestsHalfOpen uint32
	Interval            time.Duration
	OpenTimeout         time.Duration
	ConsecutiveFailures uint32
}

// DefaultSettings mirrors the breaker tuning used elsewhere in the stack:
// trip after 3 straight failures, stay open 30s, allow 2 probes half-open.
func DefaultSettings(name string) Settings {
	return Settings{
		Name:                name,
		MaxRequestsHalfOpen: 2,
		Interval:            10 * time.Second,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 3,
	}
}

// isTransientStatus reports whether a gRPC status code warrants tripping the
// breaker, per the "Transient transport" error class: UNAVAILABLE,
// DEADLINE_EXCEEDED and RESOURCE_EXHAUSTED count toward the trip threshold;
// everything else
// (UNAUTHENTICATED, PERMISSION_DENIED, validation failures) is the caller's
// problem and should not punish the connection.
func isTransientStatus(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return true // non-gRPC error (dial failure, context deadline) - treat as transient
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// Client wraps a gatewayrpc.Client with a circuit breaker, satisfying the
// same interface so callers are unaware of the wrapping.
type Client struct {
	inner   gatewayrpc.Client
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewClient wraps inner with a breaker configured by settings.
func NewClient(inner gatewayrpc.Client, settings Settings) *Client {
	logger := log.WithComponent("transport")
	cbSettings := gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequestsHalfOpen,
		Interval:    settings.Interval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return !isTransientStatus(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("gateway transport breaker state change")
		},
	}
	return &Client{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(cbSettings),
		logger:  logger,
	}
}

// Healthy reports whether the breaker is currently closed (i.e. calls are
// being attempted rather than short-circuited).
func (c *Client) Healthy() bool {
	return c.breaker.State() == gobreaker.StateClosed
}

func execute[T any](c *Client, ctx context.Context, call func(context.Context) (T, error)) (T, error) {
	var zero T
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return call(ctx)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, errkind.Wrap(errkind.KindTransient, err)
		}
		return zero, err
	}
	return result.(T), nil
}

func (c *Client) PollTask(ctx context.Context, req *gatewayrpc.PollTaskRequest) (*gatewayrpc.PollTaskResponse, error) {
	return execute(c, ctx, func(ctx context.Context) (*gatewayrpc.PollTaskResponse, error) {
		return c.inner.PollTask(ctx, req)
	})
}

func (c *Client) AckTask(ctx context.Context, req *gatewayrpc.AckTaskRequest) (*gatewayrpc.AckTaskResponse, error) {
	return execute(c, ctx, func(ctx context.Context) (*gatewayrpc.AckTaskResponse, error) {
		return c.inner.AckTask(ctx, req)
	})
}

func (c *Client) ReportResult(ctx context.Context, req *gatewayrpc.ReportResultRequest) (*gatewayrpc.ReportResultResponse, error) {
	return execute(c, ctx, func(ctx context.Context) (*gatewayrpc.ReportResultResponse, error) {
		return c.inner.ReportResult(ctx, req)
	})
}

func (c *Client) SendHeartbeat(ctx context.Context, req *gatewayrpc.SendHeartbeatRequest) (*gatewayrpc.SendHeartbeatResponse, error) {
	return execute(c, ctx, func(ctx context.Context) (*gatewayrpc.SendHeartbeatResponse, error) {
		return c.inner.SendHeartbeat(ctx, req)
	})
}

func (c *Client) SendLog(ctx context.Context, req *gatewayrpc.SendLogRequest) (*gatewayrpc.SendLogResponse, error) {
	return execute(c, ctx, func(ctx context.Context) (*gatewayrpc.SendLogResponse, error) {
		return c.inner.SendLog(ctx, req)
	})
}

func (c *Client) SendLogBatch(ctx context.Context, req *gatewayrpc.SendLogBatchRequest) (*gatewayrpc.SendLogBatchResponse, error) {
	return execute(c, ctx, func(ctx context.Context) (*gatewayrpc.SendLogBatchResponse, error) {
		return c.inner.SendLogBatch(ctx, req)
	})
}

func (c *Client) SendLogChunk(ctx context.Context, req *gatewayrpc.SendLogChunkRequest) (*gatewayrpc.SendLogChunkResponse, error) {
	return execute(c, ctx, func(ctx context.Context) (*gatewayrpc.SendLogChunkResponse, error) {
		return c.inner.SendLogChunk(ctx, req)
	})
}

func (c *Client) PollControl(ctx context.Context, req *gatewayrpc.PollControlRequest) (*gatewayrpc.PollControlResponse, error) {
	return execute(c, ctx, func(ctx context.Context) (*gatewayrpc.PollControlResponse, error) {
		return c.inner.PollControl(ctx, req)
	})
}

func (c *Client) AckControl(ctx context.Context, req *gatewayrpc.AckControlRequest) (*gatewayrpc.AckControlResponse, error) {
	return execute(c, ctx, func(ctx context.Context) (*gatewayrpc.AckControlResponse, error) {
		return c.inner.AckControl(ctx, req)
	})
}

func (c *Client) SendControlResult(ctx context.Context, req *gatewayrpc.SendControlResultRequest) (*gatewayrpc.SendControlResultResponse, error) {
	return execute(c, ctx, func(ctx context.Context) (*gatewayrpc.SendControlResultResponse, error) {
		return c.inner.SendControlResult(ctx, req)
	})
}

func (c *Client) RegisterWorker(ctx context.Context, req *gatewayrpc.RegisterWorkerRequest) (*gatewayrpc.RegisterWorkerResponse, error) {
	return execute(c, ctx, func(ctx context.Context) (*gatewayrpc.RegisterWorkerResponse, error) {
		return c.inner.RegisterWorker(ctx, req)
	})
}

func (c *Client) HealthCheck(ctx context.Context, req *gatewayrpc.HealthCheckRequest) (*gatewayrpc.HealthCheckResponse, error) {
	return execute(c, ctx, func(ctx context.Context) (*gatewayrpc.HealthCheckResponse, error) {
		return c.inner.HealthCheck(ctx, req)
	})
}

var _ gatewayrpc.Client = (*Client)(nil)
