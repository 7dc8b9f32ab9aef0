package forwarding

import (
	"sync"
	"time"
)

// BreakerState is one of the three states in the circuit-breaker state
// machine in §4.8. Unlike the teacher's internal/circuit package (which
// models a generic sliding-window breaker with Counts and an Interval), this
// breaker is driven directly by the spec's table: a flat consecutive-failure
// threshold and a fixed reset timeout, with no half-open request cap beyond
// one in-flight probe.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker implements the per-engine-instance circuit breaker from §4.8.
// Threshold == 0 disables the breaker entirely: every request attempts.
type Breaker struct {
	threshold    int
	resetTimeout time.Duration

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openSince           time.Time
	probing             bool
}

// NewBreaker constructs a closed breaker. threshold <= 0 disables breaking.
func NewBreaker(threshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
	}
}

// Disabled reports whether this breaker was constructed with threshold <= 0.
func (b *Breaker) Disabled() bool {
	return b.threshold <= 0
}

// Allow reports whether a forward attempt may proceed right now. When it
// returns false, retryAfter is the remaining seconds until the breaker
// transitions out of open, per the Retry-After header contract in §6.
func (b *Breaker) Allow() (allowed bool, retryAfter time.Duration) {
	if b.Disabled() {
		return true, 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true, 0
	case BreakerOpen:
		remaining := time.Until(b.openSince.Add(b.resetTimeout))
		if remaining > 0 {
			return false, remaining
		}
		b.state = BreakerHalfOpen
		b.probing = false
		fallthrough
	case BreakerHalfOpen:
		if b.probing {
			// A probe is already in flight; treat concurrent callers as if
			// the breaker were still open rather than letting two probes
			// race each other.
			remaining := time.Until(b.openSince.Add(b.resetTimeout))
			if remaining < 0 {
				remaining = 0
			}
			return false, remaining
		}
		b.probing = true
		return true, 0
	}
	return true, 0
}

// RecordSuccess reports a successful attempt, closing the breaker if it was
// half-open and resetting the failure count.
func (b *Breaker) RecordSuccess() {
	if b.Disabled() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
		b.probing = false
	}
}

// RecordFailure reports a failed (final, post-retry) attempt. In closed
// state this increments the consecutive-failure count and trips the
// breaker once the threshold is reached. In half-open state a single probe
// failure reopens the breaker immediately.
func (b *Breaker) RecordFailure() {
	if b.Disabled() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.threshold {
			b.state = BreakerOpen
			b.openSince = time.Now()
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openSince = time.Now()
		b.probing = false
	}
}

// State returns the breaker's current state for observability/metrics.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
