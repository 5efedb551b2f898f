// Package resilience keeps answer delivery alive when a backend misbehaves.
//
// [Breaker] is a three-state circuit breaker (closed → open → half-open) that
// stops the session layer from hammering a relay or model endpoint that is
// already failing. [Chain] composes a primary answer provider with fallbacks,
// each guarded by its own breaker, so one sick backend never leaves a
// question unanswered.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// the cool-off period has not yet elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// Closed is the normal state; calls pass through.
	Closed BreakerState = iota

	// Open means the backend tripped on consecutive failures; calls are
	// rejected with [ErrBreakerOpen] until the cool-off elapses.
	Open

	// HalfOpen is the probing state after the cool-off. A few calls are let
	// through; success closes the breaker, failure re-opens it.
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerSettings tunes a [Breaker]. Zero values select the defaults.
type BreakerSettings struct {
	// Name labels the breaker in log output, typically the provider name.
	Name string

	// TripAfter is the number of consecutive failures that opens the
	// breaker. Default: 3.
	TripAfter int

	// CoolOff is how long the breaker stays open before probing again.
	// Default: 20s.
	CoolOff time.Duration

	// Probes is the number of half-open calls allowed before the breaker
	// decides. Default: 2.
	Probes int
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name      string
	tripAfter int
	coolOff   time.Duration
	probes    int

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	probeCalls  int
	probeFails  int
}

// NewBreaker creates a closed [Breaker] from settings.
func NewBreaker(s BreakerSettings) *Breaker {
	if s.TripAfter <= 0 {
		s.TripAfter = 3
	}
	if s.CoolOff <= 0 {
		s.CoolOff = 20 * time.Second
	}
	if s.Probes <= 0 {
		s.Probes = 2
	}
	return &Breaker{
		name:      s.Name,
		tripAfter: s.TripAfter,
		coolOff:   s.CoolOff,
		probes:    s.Probes,
	}
}

// Do runs fn unless the breaker is open, and folds the outcome into the
// breaker state. In the half-open state only the probe budget is let through.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.lastFailure) < b.coolOff {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = HalfOpen
		b.probeCalls = 0
		b.probeFails = 0
		slog.Info("breaker half-open", "name", b.name)

	case HalfOpen:
		if b.probeCalls >= b.probes {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}

	probing := b.state == HalfOpen
	if probing {
		b.probeCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.lastFailure = time.Now()

	if probing {
		b.probeFails++
		// A failed probe re-opens immediately.
		b.state = Open
		b.failures = b.tripAfter
		slog.Warn("breaker re-opened", "name", b.name)
		return
	}

	b.failures++
	if b.failures >= b.tripAfter {
		b.state = Open
		slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probeCalls-b.probeFails >= b.probes {
			b.state = Closed
			b.failures = 0
			b.probeCalls = 0
			b.probeFails = 0
			slog.Info("breaker closed", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// State returns the current state. An open breaker whose cool-off has elapsed
// reports [HalfOpen]; the actual transition happens on the next [Breaker.Do].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.lastFailure) >= b.coolOff {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [Closed] and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probeCalls = 0
	b.probeFails = 0
}
