// Package metrics exposes the pipeline's Prometheus instrumentation. Metrics
// are built against an explicit registry so tests can construct fresh
// instances.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/a-marczewski/ragline/internal/resilience"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	runOutcomes   *prometheus.CounterVec
	cacheEvents   *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage by outcome.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage", "outcome"}),
		runOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragline",
			Name:      "runs_total",
			Help:      "Completed pipeline runs by terminal outcome and decision.",
		}, []string{"outcome", "decision"}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragline",
			Name:      "cache_events_total",
			Help:      "Cache hits and misses by cache name.",
		}, []string{"cache", "event"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ragline",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per dependency (0 closed, 1 half-open, 2 open).",
		}, []string{"dependency"}),
	}

	registry.MustRegister(m.stageDuration, m.runOutcomes, m.cacheEvents, m.breakerState)
	return m
}

// Registry returns the registry for the metrics HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// CountRun records one completed run.
func (m *Metrics) CountRun(outcome, decision string) {
	if m == nil {
		return
	}
	m.runOutcomes.WithLabelValues(outcome, decision).Inc()
}

// CountCacheHit records a hit on the named cache.
func (m *Metrics) CountCacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(cache, "hit").Inc()
}

// CountCacheMiss records a miss on the named cache.
func (m *Metrics) CountCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(cache, "miss").Inc()
}

// BreakerListener returns a transition listener that mirrors breaker state
// into the gauge. Wire it with Breaker.OnTransition.
func (m *Metrics) BreakerListener() resilience.StateListener {
	return func(name string, from, to resilience.CircuitState) {
		if m == nil {
			return
		}
		m.breakerState.WithLabelValues(name).Set(stateValue(to))
	}
}

func stateValue(s resilience.CircuitState) float64 {
	switch s {
	case resilience.CircuitOpen:
		return 2
	case resilience.CircuitHalfOpen:
		return 1
	default:
		return 0
	}
}
