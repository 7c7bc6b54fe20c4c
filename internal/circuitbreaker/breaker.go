// Package circuitbreaker suppresses wake attempts against a build host
// that keeps refusing to come up. While the circuit is open, runs fail
// fast instead of burning the full wake timeout on a dead host.
//
// The service drives exactly one build host, so the breaker tracks a
// single failure streak rather than keying state per target.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Allow while wake attempts are suppressed.
var ErrCircuitOpen = errors.New("wake suppressed: build host keeps failing")

// CircuitBreaker opens after a streak of consecutive wake failures and,
// once the cooldown has passed, lets a single wake attempt through; that
// attempt's outcome decides whether the circuit closes or re-opens.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	clock     func() time.Time

	streak   int       // consecutive wake failures
	openedAt time.Time // zero while the circuit is closed
	trying   bool      // a post-cooldown wake attempt is in flight
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// WithClock overrides the time source. Used in tests.
func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

// Allow reports whether a wake attempt may proceed. While the circuit is
// open it fails fast with ErrCircuitOpen until the cooldown has elapsed,
// then admits exactly one attempt at a time.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.openedAt.IsZero() {
		return nil
	}
	if cb.trying {
		return ErrCircuitOpen
	}
	if cb.clock().Sub(cb.openedAt) < cb.cooldown {
		return ErrCircuitOpen
	}
	cb.trying = true
	return nil
}

// RecordSuccess closes the circuit and resets the failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.streak = 0
	cb.openedAt = time.Time{}
	cb.trying = false
}

// RecordFailure extends the failure streak; at the threshold the circuit
// opens (or re-opens, restarting the cooldown).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.streak++
	cb.trying = false
	if cb.streak >= cb.threshold {
		cb.openedAt = cb.clock()
	}
}
