package chain

import (
	"sync"
	"time"
)

// CircuitState is the breaker position
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Breaker counts consecutive gateway failures. It opens at the threshold,
// becomes half-open after the cooldown, and only a successful health probe
// closes it again. Each Gateway owns its own Breaker.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(CircuitState)

	failures int
	open     bool
	openedAt time.Time
}

// NewBreaker creates a closed breaker
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock replaces the time source
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// OnTransition registers a callback fired on every state change
func (b *Breaker) OnTransition(fn func(CircuitState)) *Breaker {
	b.onChange = fn
	return b
}

func (b *Breaker) stateLocked() CircuitState {
	if !b.open {
		return CircuitClosed
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		return CircuitHalfOpen
	}
	return CircuitOpen
}

// State reports the current position
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// Failures reports the consecutive failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Allow reports whether mint traffic may pass
func (b *Breaker) Allow() bool {
	return b.State() == CircuitClosed
}

// RecordSuccess resets the failure count of a closed breaker
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		b.failures = 0
	}
}

// RecordFailure counts a failed call and opens at the threshold
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failures++
	tripped := !b.open && b.failures >= b.threshold
	if tripped {
		b.open = true
		b.openedAt = b.now()
	}
	b.mu.Unlock()

	if tripped {
		b.notify(CircuitOpen)
	}
}

// RecordProbe applies a health probe outcome. A successful probe closes a
// half-open breaker; a failed one restarts the cooldown.
func (b *Breaker) RecordProbe(healthy bool) {
	b.mu.Lock()
	state := b.stateLocked()
	var next CircuitState
	switch {
	case healthy && state == CircuitHalfOpen:
		b.open = false
		b.failures = 0
		next = CircuitClosed
	case healthy && state == CircuitClosed:
		b.failures = 0
	case !healthy && state == CircuitHalfOpen:
		b.openedAt = b.now()
		next = CircuitOpen
	case !healthy && state == CircuitClosed:
		b.mu.Unlock()
		b.RecordFailure()
		return
	}
	b.mu.Unlock()

	if next != "" {
		b.notify(next)
	}
}

func (b *Breaker) notify(state CircuitState) {
	if b.onChange != nil {
		b.onChange(state)
	}
}
