package session

import (
	"errors"
	"sync"
	"time"
)

// BreakerState represents the state of the circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// ErrCircuitOpen is returned when session creation is disabled because
// the factory keeps failing for a role.
var ErrCircuitOpen = errors.New("session factory circuit breaker is open")

// CircuitBreaker guards session creation per role. It opens after a run
// of consecutive factory failures, lets a bounded number of probes
// through after the reset timeout, and closes again on success.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	now          func() time.Time

	mu              sync.Mutex
	state           BreakerState
	failures        int
	lastFailureTime time.Time
	halfOpenCount   int
}

// NewCircuitBreaker builds a breaker. Zero values fall back to 3
// failures and a 60 second reset.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, now func() time.Time) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  1,
		now:          now,
	}
}

// Allow reports whether a creation attempt may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.resetTimeout {
			cb.state = BreakerHalfOpen
			cb.halfOpenCount = 1
			return nil
		}
		return ErrCircuitOpen
	case BreakerHalfOpen:
		if cb.halfOpenCount < cb.halfOpenMax {
			cb.halfOpenCount++
			return nil
		}
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess closes the breaker and clears the failure run.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.halfOpenCount = 0
}

// RecordFailure extends the failure run, opening the breaker when the
// threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailureTime = cb.now()
	if cb.state == BreakerHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = BreakerOpen
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RetryAfter reports how long callers should wait before the next
// attempt while the breaker is open.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != BreakerOpen {
		return 0
	}
	remaining := cb.resetTimeout - cb.now().Sub(cb.lastFailureTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}
