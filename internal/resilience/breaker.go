package resilience

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to open the circuit
	RecoveryTimeout  time.Duration // how long to stay open before half-open
	HalfOpenMaxCalls int           // trial calls allowed in half-open
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// StateListener is called on every state transition.
type StateListener func(name string, from, to CircuitState)

// Breaker implements the circuit breaker pattern for one dependency.
// It is shared across all requests using that dependency and is internally
// synchronized. Allow is consulted before every call; RecordSuccess or
// RecordFailure must be called exactly once per allowed call window.
type Breaker struct {
	name     string
	config   BreakerConfig
	listener StateListener

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	halfOpenCalls       int
	halfOpenSuccesses   int
	now                 func() time.Time
}

// NewBreaker creates a closed breaker for the named dependency.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	return &Breaker{
		name:   name,
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
	}
}

// OnTransition registers a listener for state changes. Must be called before
// the breaker is shared.
func (b *Breaker) OnTransition(l StateListener) {
	b.listener = l
}

// Allow reports whether a call may proceed. It returns ErrCircuitOpen while
// the circuit is open and ErrHalfOpenLimit when the half-open trial budget is
// spent. No network call happens on rejection.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.lastFailure) >= b.config.RecoveryTimeout {
			b.transition(CircuitHalfOpen)
			b.halfOpenCalls = 1
			return nil
		}
		return ErrCircuitOpen

	case CircuitHalfOpen:
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			return ErrHalfOpenLimit
		}
		b.halfOpenCalls++
		return nil
	}
	return nil
}

// RecordSuccess records a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == CircuitHalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.HalfOpenMaxCalls {
			b.transition(CircuitClosed)
		}
	}
}

// RecordFailure records a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailure = b.now()

	switch b.state {
	case CircuitClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any trial failure reopens the circuit.
		b.transition(CircuitOpen)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// transition changes state and resets per-state counters. Caller holds mu.
func (b *Breaker) transition(to CircuitState) {
	from := b.state
	b.state = to

	switch to {
	case CircuitClosed:
		b.consecutiveFailures = 0
	case CircuitHalfOpen:
		b.halfOpenCalls = 0
		b.halfOpenSuccesses = 0
	}

	if b.listener != nil && from != to {
		b.listener(b.name, from, to)
	}
}
