package resilience

import (
	"context"
	"errors"
	"fmt"
)

// Class buckets an error for retry and degradation decisions.
type Class string

const (
	// ClassTransient covers timeouts, rate limits and connection failures. Retryable.
	ClassTransient Class = "transient"
	// ClassUnavailable means a circuit is open for the dependency. Never retried.
	ClassUnavailable Class = "unavailable"
	// ClassPermanent covers malformed input and auth failures. Never retried.
	ClassPermanent Class = "permanent"
	// ClassQuality is a pipeline-level outcome (zero candidates, low confidence),
	// not a dependency error.
	ClassQuality Class = "quality"
)

// ErrCircuitOpen is returned when a dependency's circuit is open.
var ErrCircuitOpen = errors.New("dependency unavailable: circuit open")

// ErrHalfOpenLimit is returned when a half-open circuit has no trial slots left.
var ErrHalfOpenLimit = errors.New("dependency unavailable: half-open trial limit reached")

type classified struct {
	class Class
	err   error
}

func (e *classified) Error() string { return fmt.Sprintf("%s: %v", e.class, e.err) }
func (e *classified) Unwrap() error { return e.err }

// Permanent marks err as permanent so the retry policy will not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ClassPermanent, err: err}
}

// Transient marks err as transient.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ClassTransient, err: err}
}

// Quality marks err as a pipeline-quality outcome rather than a dependency fault.
func Quality(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ClassQuality, err: err}
}

// Classify returns the error class. Unclassified errors default to transient,
// since networked dependencies fail in retryable ways far more often than not.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var c *classified
	if errors.As(err, &c) {
		return c.class
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrHalfOpenLimit) {
		return ClassUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}
	return ClassTransient
}

// Retryable reports whether the retry policy may attempt err again.
func Retryable(err error) bool {
	return Classify(err) == ClassTransient
}
