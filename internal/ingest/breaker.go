package ingest

import (
	"sync"
	"time"
)

// Breaker defaults.
const (
	DefaultMaxFailures = 3
	DefaultResetAfter  = 60 * time.Second
)

// CircuitBreaker opens after consecutive adapter failures and lets a probe
// through once the reset window elapses.
type CircuitBreaker struct {
	mu          sync.Mutex
	maxFailures int
	resetAfter  time.Duration
	failures    int
	openedAt    time.Time
	now         func() time.Time
}

// NewCircuitBreaker builds a breaker; zero arguments take the defaults.
func NewCircuitBreaker(maxFailures int, resetAfter time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	if resetAfter <= 0 {
		resetAfter = DefaultResetAfter
	}
	return &CircuitBreaker{maxFailures: maxFailures, resetAfter: resetAfter, now: time.Now}
}

// Allow reports whether a call may proceed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.maxFailures {
		return true
	}
	if b.now().Sub(b.openedAt) >= b.resetAfter {
		// Half-open: allow one probe.
		b.failures = b.maxFailures - 1
		return true
	}
	return false
}

// Success closes the breaker.
func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Failure counts a failed call, opening the breaker at the threshold.
func (b *CircuitBreaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.maxFailures {
		b.openedAt = b.now()
	}
}

// Open reports whether calls are currently rejected, without the half-open
// probe side effect of Allow.
func (b *CircuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.maxFailures {
		return false
	}
	return b.now().Sub(b.openedAt) < b.resetAfter
}
