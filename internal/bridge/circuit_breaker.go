package bridge

import (
	"sync"
	"time"

	"github.com/klabs/labelqueue/internal/core"
	"github.com/klabs/labelqueue/internal/telemetry"
)

// CircuitState mirrors the teacher's postgres/retry.go state machine (closed/open/half-open).
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker trips after MaxFailures consecutive failures within the observation window and
// stays open for ResetTimeout before moving to half-open (§4.2 "5 failures/10s -> open 30s ->
// half-open"). While half-open every call is let through; the first success closes the breaker
// and the first failure reopens it.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        CircuitState
	maxFailures  int
	window       time.Duration
	resetTimeout time.Duration
	failures     []time.Time
	openedAt     time.Time
	telemetry    core.Telemetry
}

func NewCircuitBreaker(maxFailures int, window, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		window:       window,
		resetTimeout: resetTimeout,
		telemetry:    telemetry.Noop{},
	}
}

// WithTelemetry attaches a measurement sink for state transitions; returns cb for chaining.
func (cb *CircuitBreaker) WithTelemetry(t core.Telemetry) *CircuitBreaker {
	if t != nil {
		cb.telemetry = t
	}
	return cb
}

// Allow reports whether a call may proceed, transitioning Open -> HalfOpen once resetTimeout has
// elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.openedAt) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			cb.telemetry.Record("bridge_circuit_state", map[string]float64{"state": float64(CircuitHalfOpen)}, nil)
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = nil
	if cb.state != CircuitClosed {
		cb.telemetry.Record("bridge_circuit_state", map[string]float64{"state": float64(CircuitClosed)}, nil)
	}
	cb.state = CircuitClosed
}

func (cb *CircuitBreaker) RecordFailure(now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.trip(now)
		return
	}

	cb.failures = append(cb.failures, now)
	cutoff := now.Add(-cb.window)
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failures = kept

	if len(cb.failures) >= cb.maxFailures {
		cb.trip(now)
	}
}

func (cb *CircuitBreaker) trip(now time.Time) {
	cb.state = CircuitOpen
	cb.openedAt = now
	cb.failures = nil
	cb.telemetry.Record("bridge_circuit_state", map[string]float64{"state": float64(CircuitOpen)}, nil)
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
