package switchbot

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryConfig is the executor retry policy.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first. Default 2.
	MaxRetries int
	// BaseDelay is the wait before the first retry; each later wait doubles,
	// up to MaxRetryWait. Default 500ms.
	BaseDelay time.Duration
}

// MaxRetryWait caps a single backoff wait. A BaseDelay above it is used
// unchanged.
const MaxRetryWait = time.Hour

// DefaultRetryConfig returns the default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 2, BaseDelay: 500 * time.Millisecond}
}

// Operation performs one call against a resolved device id.
type Operation[T any] func(ctx context.Context, deviceID string) (T, error)

// Executor runs device operations by name. Any failure, including a failed
// resolution, is treated as a possibly stale id: the id is invalidated and
// the operation retried with exponential backoff.
type Executor struct {
	resolver Resolver
	cfg      RetryConfig
	logger   *zap.Logger
	timer    backoff.Timer // nil uses a real timer
}

// NewExecutor creates an Executor. Negative MaxRetries and a zero BaseDelay
// fall back to the defaults.
func NewExecutor(resolver Resolver, cfg RetryConfig, logger *zap.Logger) *Executor {
	def := DefaultRetryConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	return &Executor{resolver: resolver, cfg: cfg, logger: logger}
}

// Config returns the executor's retry policy.
func (x *Executor) Config() RetryConfig {
	return x.cfg
}

// Run resolves deviceName and runs op, making at most 1+MaxRetries attempts.
// Retry i (1-based) waits BaseDelay*2^(i-1) and then invalidates the cached
// id so the attempt re-resolves. Only the last attempt's error is returned.
// Cancelling ctx aborts the wait.
func Run[T any](ctx context.Context, x *Executor, deviceName string, op Operation[T]) (T, error) {
	attempt := 0
	attemptOnce := func() (T, error) {
		if attempt > 0 {
			x.resolver.Invalidate(deviceName)
		}
		attempt++

		id, err := x.resolver.Resolve(ctx, deviceName)
		if err != nil {
			var zero T
			return zero, err
		}
		return op(ctx, id)
	}

	notify := func(err error, wait time.Duration) {
		retriesTotal.WithLabelValues(deviceName).Inc()
		x.logger.Warn("device operation failed, retrying",
			zap.String("device", deviceName),
			zap.Int("retry", attempt),
			zap.Int("max_retries", x.cfg.MaxRetries),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	return backoff.RetryNotifyWithTimerAndData(attemptOnce, x.policy(ctx), notify, x.timer)
}

// policy builds a deterministic doubling backoff capped at MaxRetries.
func (x *Executor) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = x.cfg.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = maxInterval(x.cfg.BaseDelay, x.cfg.MaxRetries)
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(x.cfg.MaxRetries)), ctx)
}

// maxInterval returns the largest wait retries can reach, doubling base at
// most retries times without passing MaxRetryWait.
func maxInterval(base time.Duration, retries int) time.Duration {
	ceiling := max(base, MaxRetryWait)
	d := base
	for i := 0; i < retries && d < ceiling; i++ {
		if d > ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	return d
}
