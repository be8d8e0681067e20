package gateway

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(5, 30*time.Second)
	for i := 0; i < 4; i++ {
		b.OnFailure()
		if got := b.State(); got != BreakerClosed {
			t.Fatalf("breaker opened after %d failures, want threshold 5 (state=%s)", i+1, got)
		}
	}
	b.OnFailure()
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("breaker should be open after 5 failures, got %s", got)
	}
	if b.Allow() {
		t.Fatalf("open breaker must short-circuit")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, 30*time.Second)
	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	b.OnFailure()
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("non-consecutive failures must not open the breaker, got %s", got)
	}
}

func TestBreakerRecoveryWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(1, 30*time.Second)
	b.now = func() time.Time { return now }

	b.OnFailure()
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("expected open, got %s", got)
	}
	now = now.Add(10 * time.Second)
	if b.Allow() {
		t.Fatalf("allow before recovery window must short-circuit")
	}
	now = now.Add(25 * time.Second)
	if !b.Allow() {
		t.Fatalf("allow after recovery window must grant one trial")
	}
	if got := b.State(); got != BreakerHalfOpen {
		t.Fatalf("expected half_open during trial, got %s", got)
	}
	if b.Allow() {
		t.Fatalf("only one trial call may be in flight")
	}

	b.OnSuccess()
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("trial success must close, got %s", got)
	}
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(1, 30*time.Second)
	b.now = func() time.Time { return now }

	b.OnFailure()
	now = now.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatalf("expected trial to be allowed")
	}
	b.OnFailure()
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("trial failure must reopen, got %s", got)
	}
	// The recovery window restarts from the trial failure.
	now = now.Add(10 * time.Second)
	if b.Allow() {
		t.Fatalf("recovery window should have restarted")
	}
}
