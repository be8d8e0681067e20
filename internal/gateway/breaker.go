package gateway

import (
	"sync"
	"time"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// breakerSnapshot is the full breaker state as a value, so transitions can
// be pure functions and tested without a clock or goroutines.
type breakerSnapshot struct {
	State         BreakerState
	Failures      int // consecutive failures while closed
	OpenedAt      time.Time
	TrialInFlight bool
}

type breakerEvent int

const (
	evAllow breakerEvent = iota
	evSuccess
	evFailure
)

/*
nextBreaker is the pure transition function:

	CLOSED    --(N consecutive failures)-->            OPEN
	OPEN      --(recovery window elapsed, on allow)--> HALF_OPEN (one trial)
	HALF_OPEN --(trial success)-->                     CLOSED
	HALF_OPEN --(trial failure)-->                     OPEN

The returned bool is only meaningful for evAllow: whether the caller may
attempt a network call.
*/
func nextBreaker(s breakerSnapshot, ev breakerEvent, threshold int, recovery time.Duration, now time.Time) (breakerSnapshot, bool) {
	switch ev {
	case evAllow:
		switch s.State {
		case BreakerClosed:
			return s, true
		case BreakerOpen:
			if now.Sub(s.OpenedAt) >= recovery {
				s.State = BreakerHalfOpen
				s.TrialInFlight = true
				return s, true
			}
			return s, false
		case BreakerHalfOpen:
			// One trial at a time; concurrent callers short-circuit.
			if s.TrialInFlight {
				return s, false
			}
			s.TrialInFlight = true
			return s, true
		}
	case evSuccess:
		s.Failures = 0
		s.TrialInFlight = false
		s.State = BreakerClosed
		return s, false
	case evFailure:
		switch s.State {
		case BreakerHalfOpen:
			s.State = BreakerOpen
			s.OpenedAt = now
			s.TrialInFlight = false
		case BreakerClosed:
			s.Failures++
			if s.Failures >= threshold {
				s.State = BreakerOpen
				s.OpenedAt = now
				s.Failures = 0
			}
		}
		return s, false
	}
	return s, false
}

// Breaker is the concurrency-safe wrapper around nextBreaker.
//
// The failure threshold is deliberately a runtime parameter: under bursty
// failure patterns operators raise it (observed deployments run anywhere
// from 5 to 20) to trade false-positive opens against fail-fast latency.
type Breaker struct {
	mu        sync.Mutex
	snap      breakerSnapshot
	threshold int
	recovery  time.Duration
	now       func() time.Time
}

func NewBreaker(threshold int, recovery time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 5
	}
	if recovery <= 0 {
		recovery = 45 * time.Second
	}
	return &Breaker{
		snap:      breakerSnapshot{State: BreakerClosed},
		threshold: threshold,
		recovery:  recovery,
		now:       time.Now,
	}
}

// Allow reports whether a network attempt may proceed. A false return is
// the short-circuit path: the caller must use the fallback with no network
// wait.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, ok := nextBreaker(b.snap, evAllow, b.threshold, b.recovery, b.now())
	b.snap = snap
	return ok
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap, _ = nextBreaker(b.snap, evSuccess, b.threshold, b.recovery, b.now())
}

// OnFailure records a failed or timed-out call. Timeouts count the same as
// hard failures.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap, _ = nextBreaker(b.snap, evFailure, b.threshold, b.recovery, b.now())
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap.State
}
