package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryStopsAfterMaxAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}

	calls := 0
	err := Do(context.Background(), cfg, nil, "test", func(ctx context.Context) error {
		calls++
		return Transient(errors.New("boom"))
	})

	if err == nil {
		t.Fatal("expected an error after retries exhaust")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetrySucceedsMidway(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}

	calls := 0
	err := Do(context.Background(), cfg, nil, "test", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestRetryNeverRetriesPermanentErrors(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}

	calls := 0
	err := Do(context.Background(), cfg, nil, "test", func(ctx context.Context) error {
		calls++
		return Permanent(errors.New("bad request"))
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error must not be retried, got %d attempts", calls)
	}
	if Classify(err) != ClassPermanent {
		t.Errorf("expected permanent class, got %s", Classify(err))
	}
}

func TestRetryRespectsCancellation(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, nil, "test", func(ctx context.Context) error {
		calls++
		return Transient(errors.New("flaky"))
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	if calls > 2 {
		t.Errorf("expected retries to stop on cancellation, got %d attempts", calls)
	}
}

func TestBackoffDelayWithinBounds(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2.0}

	for i := 0; i < 5; i++ {
		for trial := 0; trial < 50; trial++ {
			d := backoffDelay(cfg, i)
			ceiling := time.Duration(float64(cfg.BaseDelay) * pow(cfg.Multiplier, i))
			if ceiling > cfg.MaxDelay {
				ceiling = cfg.MaxDelay
			}
			if d < 0 || d > ceiling {
				t.Fatalf("delay %v for retry %d outside [0, %v]", d, i, ceiling)
			}
		}
	}
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

func TestClassifyDefaults(t *testing.T) {
	cases := []struct {
		err  error
		want Class
	}{
		{errors.New("plain"), ClassTransient},
		{context.DeadlineExceeded, ClassTransient},
		{context.Canceled, ClassPermanent},
		{ErrCircuitOpen, ClassUnavailable},
		{ErrHalfOpenLimit, ClassUnavailable},
		{Quality(errors.New("no candidates")), ClassQuality},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("Classify(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}
