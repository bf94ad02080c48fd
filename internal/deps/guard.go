package deps

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/a-marczewski/ragline/internal/resilience"
)

// Guard wraps one dependency's calls with its circuit breaker, retry policy
// and per-attempt timeout. Retries happen inside a single breaker-guarded
// window: the breaker is consulted once before the call and updated once with
// the final outcome.
type Guard struct {
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
	timeout time.Duration
	logger  *zap.Logger
}

// NewGuard creates a guard for one dependency.
func NewGuard(breaker *resilience.Breaker, retry resilience.RetryConfig, timeout time.Duration, logger *zap.Logger) *Guard {
	return &Guard{breaker: breaker, retry: retry, timeout: timeout, logger: logger}
}

// Do runs fn under the guard. Each attempt gets its own timeout; timeout
// expiry counts as transient and is retried. Parent-context cancellation is
// not charged to the breaker, so a disconnecting client cannot trip a healthy
// dependency's circuit.
func (g *Guard) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := g.breaker.Allow(); err != nil {
		if g.logger != nil {
			g.logger.Warn("dependency call rejected by circuit breaker",
				zap.String("dependency", g.breaker.Name()),
				zap.String("op", op),
			)
		}
		return err
	}

	err := resilience.Do(ctx, g.retry, g.logger, op, func(ctx context.Context) error {
		attemptCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		err := fn(attemptCtx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// Attempt timeout, not caller cancellation.
			return resilience.Transient(err)
		}
		return err
	})

	switch {
	case err == nil:
		g.breaker.RecordSuccess()
	case errors.Is(err, context.Canceled):
		// Cancelled by the caller: no verdict on dependency health.
	default:
		g.breaker.RecordFailure()
	}
	return err
}

// Breaker exposes the underlying breaker for health reporting.
func (g *Guard) Breaker() *resilience.Breaker { return g.breaker }
