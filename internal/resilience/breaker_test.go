package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

func failing() error { return errBackend }
func succeeding() error { return nil }

func TestBreaker_StaysClosedOnSuccess(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerSettings{Name: "relay"})

	for range 10 {
		if err := b.Do(succeeding); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if got := b.State(); got != Closed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerSettings{Name: "relay", TripAfter: 3})

	for range 3 {
		if err := b.Do(failing); !errors.Is(err, errBackend) {
			t.Fatalf("Do = %v, want backend error", err)
		}
	}
	if got := b.State(); got != Open {
		t.Fatalf("state = %v, want open", got)
	}

	// Calls are now rejected without touching the backend.
	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("Do = %v, want ErrBreakerOpen", err)
	}
	if called {
		t.Error("backend was called while the breaker was open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerSettings{TripAfter: 3})

	b.Do(failing)
	b.Do(failing)
	b.Do(succeeding)
	b.Do(failing)
	b.Do(failing)

	if got := b.State(); got != Closed {
		t.Errorf("state = %v, want closed (failures interleaved with success)", got)
	}
}

func TestBreaker_HalfOpenClosesAfterProbes(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerSettings{TripAfter: 1, CoolOff: time.Minute, Probes: 2})

	b.Do(failing)
	if got := b.State(); got != Open {
		t.Fatalf("state = %v, want open", got)
	}

	// Backdate the failure instead of sleeping out the cool-off.
	b.mu.Lock()
	b.lastFailure = time.Now().Add(-2 * time.Minute)
	b.mu.Unlock()
	if got := b.State(); got != HalfOpen {
		t.Fatalf("state after cool-off = %v, want half-open", got)
	}

	// Two successful probes close the breaker.
	if err := b.Do(succeeding); err != nil {
		t.Fatalf("probe 1: %v", err)
	}
	if err := b.Do(succeeding); err != nil {
		t.Fatalf("probe 2: %v", err)
	}
	if got := b.State(); got != Closed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()
	// Generous cool-off so the re-opened breaker cannot slip back to
	// half-open between the two calls below.
	b := NewBreaker(BreakerSettings{TripAfter: 1, CoolOff: time.Minute, Probes: 2})

	b.Do(failing)
	b.mu.Lock()
	b.lastFailure = time.Now().Add(-2 * time.Minute)
	b.mu.Unlock()

	if err := b.Do(failing); !errors.Is(err, errBackend) {
		t.Fatalf("probe = %v, want backend error", err)
	}
	if got := b.State(); got != Open {
		t.Errorf("state = %v, want open after failed probe", got)
	}
	if err := b.Do(succeeding); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("Do = %v, want ErrBreakerOpen", err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerSettings{TripAfter: 1})

	b.Do(failing)
	if got := b.State(); got != Open {
		t.Fatalf("state = %v, want open", got)
	}

	b.Reset()
	if got := b.State(); got != Closed {
		t.Errorf("state after Reset = %v, want closed", got)
	}
	if err := b.Do(succeeding); err != nil {
		t.Errorf("Do after Reset: %v", err)
	}
}

func TestBreakerState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state BreakerState
		want  string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{BreakerState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
