package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryConfig defines the retry policy for a dependency call.
type RetryConfig struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before the first retry, pre-jitter
	MaxDelay    time.Duration // clamp for the computed delay
	Multiplier  float64       // exponential base
}

// DefaultRetryConfig returns the stock policy: 3 attempts, 500ms base, 2x backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// Do runs fn up to cfg.MaxAttempts times with exponential backoff and full
// jitter: the sleep before retry i is uniform in [0, min(base*mult^i, max)].
// Permanent, unavailable and quality errors stop retrying immediately.
func Do(ctx context.Context, cfg RetryConfig, logger *zap.Logger, op string, fn func(context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt-1)
			if logger != nil {
				logger.Debug("retrying operation",
					zap.String("op", op),
					zap.Int("attempt", attempt+1),
					zap.Duration("delay", delay),
					zap.Error(err),
				)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err = ctx.Err(); err != nil {
			return err
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
	}
	return err
}

// backoffDelay computes the jittered sleep before retry number i (0-based).
func backoffDelay(cfg RetryConfig, i int) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(i))
	if cfg.MaxDelay > 0 && d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	return time.Duration(rand.Float64() * d)
}
