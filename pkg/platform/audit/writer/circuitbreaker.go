package writer

import (
	"sync"
	"time"
)

// CircuitBreaker stops the writer from hammering an audit store that keeps
// failing. While open, records are dropped without touching the store; after
// the cooldown one write is let through to probe the store again.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration
	now       func() time.Time

	failures  int
	openUntil time.Time
	open      bool
	probing   bool
}

// NewCircuitBreaker opens after threshold consecutive failures and stays open
// for cooldown. Non-positive arguments fall back to 5 failures and one minute.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a write may go to the store. Once the cooldown has
// passed exactly one caller is admitted until its outcome is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.open {
		return true
	}
	if cb.probing || cb.now().Before(cb.openUntil) {
		return false
	}
	cb.probing = true
	return true
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.open = false
	cb.probing = false
}

// RecordFailure counts a failure and opens the circuit at the threshold. A
// failed probe reopens it for a full cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.probing || cb.failures >= cb.threshold {
		cb.open = true
		cb.probing = false
		cb.openUntil = cb.now().Add(cb.cooldown)
	}
}

func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.open
}
