// Package resilience provides failure-isolation primitives for
// outbound delivery.
package resilience

import (
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before
	// the breaker opens.
	FailureThreshold int

	// SuccessThreshold is the number of successes in half-open state
	// needed to close again.
	SuccessThreshold int

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the standard breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         2 * time.Minute,
	}
}

// Breaker tracks consecutive delivery failures for one destination and
// fast-fails while the destination looks down. Callers check Allow
// before attempting work and report the outcome afterward.
type Breaker struct {
	config BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
	lastChange  time.Time

	totalAttempts  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64
}

// NewBreaker creates a closed breaker.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &Breaker{
		config:     config,
		state:      BreakerClosed,
		lastChange: time.Now(),
	}
}

// Allow reports whether an attempt may proceed. An open breaker whose
// cooldown has elapsed transitions to half-open and admits one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFailure) > b.config.Cooldown {
			b.transition(BreakerHalfOpen)
			b.totalAttempts++
			return true
		}
		b.totalRejected++
		return false
	default:
		b.totalAttempts++
		return true
	}
}

// RecordSuccess reports a successful attempt.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++

	switch b.state {
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transition(BreakerClosed)
		}
	case BreakerClosed:
		b.failures = 0
	}
}

// RecordFailure reports a failed attempt.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.lastFailure = time.Now()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		// Any failure while probing reopens immediately.
		b.transition(BreakerOpen)
	}
}

func (b *Breaker) transition(state BreakerState) {
	b.state = state
	b.lastChange = time.Now()
	b.failures = 0
	b.successes = 0
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(BreakerClosed)
}

// BreakerStats is a point-in-time view of one breaker.
type BreakerStats struct {
	State          BreakerState
	TotalAttempts  int64
	TotalSuccesses int64
	TotalFailures  int64
	TotalRejected  int64
	LastFailure    time.Time
	LastChange     time.Time
}

// Stats returns counters for the status command.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerStats{
		State:          b.state,
		TotalAttempts:  b.totalAttempts,
		TotalSuccesses: b.totalSuccesses,
		TotalFailures:  b.totalFailures,
		TotalRejected:  b.totalRejected,
		LastFailure:    b.lastFailure,
		LastChange:     b.lastChange,
	}
}
