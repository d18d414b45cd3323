// Package circuitbreaker implements the percentage-threshold circuit
// breaker described in spec §4.3 (component E). It is grounded on the
// teacher's internal/circuitbreaker/breaker.go but generalizes the
// teacher's fixed failure-count thresholds to the spec's
// failure/success-percentage thresholds, adds the trackIndividualAttempts
// hook consumed by the stableRequest engine's AttemptObserver, and the
// minimumRequests*10 CLOSED-state counter reset.
//
// sony/gobreaker/v2 was evaluated and dropped: see DESIGN.md — it has no
// hook for attempt-level tracking or for the CLOSED-state reset-at-10x
// rule, both of which are load-bearing invariants here.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/wudi/stablegate/internal/config"
	"github.com/wudi/stablegate/internal/stableerrors"
)

// State is one of the three circuit breaker states named in spec §3.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker is a single percentage-threshold circuit breaker.
type Breaker struct {
	mu sync.Mutex

	failureThresholdPct int
	minimumRequests     int
	recoveryTimeout      time.Duration
	successThresholdPct int
	halfOpenMaxRequests int
	trackAttempts       bool

	state State

	total   int
	failed  int
	succeed int

	halfOpenRequests  int
	halfOpenSuccesses int
	halfOpenFailures  int

	lastFailureTime  time.Time
	forcedOpenUntil  time.Time
}

// New creates a Breaker from a CircuitBreakerConfig, applying spec §3's
// defaults for any zero field.
func New(cfg config.CircuitBreakerConfig) *Breaker {
	pct := cfg.FailureThresholdPercentage
	if pct <= 0 {
		pct = 50
	}
	minReq := cfg.MinimumRequests
	if minReq <= 0 {
		minReq = 1
	}
	recovery := cfg.RecoveryTimeout
	if recovery <= 0 {
		recovery = 100 * time.Millisecond
	}
	successPct := cfg.SuccessThresholdPercentage
	if successPct <= 0 {
		successPct = 50
	}
	halfOpenMax := cfg.HalfOpenMaxRequests
	if halfOpenMax <= 0 {
		halfOpenMax = 5
	}
	return &Breaker{
		failureThresholdPct: pct,
		minimumRequests:     minReq,
		recoveryTimeout:     recovery,
		successThresholdPct: successPct,
		halfOpenMaxRequests: halfOpenMax,
		trackAttempts:       cfg.TrackIndividualAttempts,
		state:               Closed,
	}
}

// CanExecute reports whether a call may proceed, transitioning OPEN ->
// HALF_OPEN when the recovery timeout has elapsed (spec §4.3).
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canExecuteLocked()
}

func (b *Breaker) canExecuteLocked() bool {
	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Now().Before(b.forcedOpenUntil) {
			return false
		}
		if time.Since(b.lastFailureTime) >= b.recoveryTimeout {
			b.state = HalfOpen
			b.halfOpenRequests = 0
			b.halfOpenSuccesses = 0
			b.halfOpenFailures = 0
			return true
		}
		return false
	case HalfOpen:
		return b.halfOpenRequests < b.halfOpenMaxRequests
	default:
		return false
	}
}

// Execute gates fn behind CanExecute and records its outcome.
func (b *Breaker) Execute(fn func() error) error {
	if !b.CanExecute() {
		return stableerrors.ErrCircuitBreakerOpen
	}
	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// RecordSuccess records a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordLocked(true)
}

// RecordFailure records a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordLocked(false)
}

// RecordAttemptSuccess implements stablereq.AttemptObserver: when
// trackIndividualAttempts is set, every retry attempt (not just the call's
// final outcome) feeds the breaker.
func (b *Breaker) RecordAttemptSuccess() {
	if !b.trackAttempts {
		return
	}
	b.RecordSuccess()
}

// RecordAttemptFailure is the failure half of RecordAttemptSuccess.
func (b *Breaker) RecordAttemptFailure() {
	if !b.trackAttempts {
		return
	}
	b.RecordFailure()
}

func (b *Breaker) recordLocked(success bool) {
	switch b.state {
	case HalfOpen:
		b.halfOpenRequests++
		if success {
			b.halfOpenSuccesses++
		} else {
			b.halfOpenFailures++
			b.lastFailureTime = time.Now()
		}
		if b.halfOpenRequests >= b.halfOpenMaxRequests {
			ratio := percentage(b.halfOpenSuccesses, b.halfOpenRequests)
			if ratio >= b.successThresholdPct {
				b.transitionToClosed()
			} else {
				b.state = Open
			}
		}
	case Closed:
		b.total++
		if success {
			b.succeed++
		} else {
			b.failed++
			b.lastFailureTime = time.Now()
		}
		if b.total >= b.minimumRequests && percentage(b.failed, b.total) >= b.failureThresholdPct {
			b.state = Open
			return
		}
		if b.total >= b.minimumRequests*10 {
			b.total, b.failed, b.succeed = 0, 0, 0
		}
	case Open:
		// A call that slipped through between CanExecute and Record (e.g.
		// concurrent goroutines) still updates lastFailureTime on failure.
		if !success {
			b.lastFailureTime = time.Now()
		}
	}
}

// ForceOpenFor trips the breaker directly into OPEN state for at least d,
// regardless of its failure-percentage counters. This is how
// internal/backpressure feeds a server-advertised Retry-After delay
// straight into the breaker instead of waiting for enough failures to
// accumulate (SPEC_FULL.md's supplemented backpressure feature).
func (b *Breaker) ForceOpenFor(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Open
	b.lastFailureTime = time.Now()
	if until := time.Now().Add(d); until.After(b.forcedOpenUntil) {
		b.forcedOpenUntil = until
	}
}

func (b *Breaker) transitionToClosed() {
	b.state = Closed
	b.total, b.failed, b.succeed = 0, 0, 0
	b.halfOpenRequests, b.halfOpenSuccesses, b.halfOpenFailures = 0, 0, 0
}

func percentage(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return part * 100 / whole
}

// Snapshot is a point-in-time view of a breaker, suitable for metrics
// exposition or persistence.
type Snapshot struct {
	State             string
	Total             int
	Failed            int
	Succeeded         int
	HalfOpenRequests  int
	HalfOpenSuccesses int
	HalfOpenFailures  int
	LastFailureTime   time.Time
}

// Snapshot returns a point-in-time view of b.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:             b.state.String(),
		Total:             b.total,
		Failed:            b.failed,
		Succeeded:         b.succeed,
		HalfOpenRequests:  b.halfOpenRequests,
		HalfOpenSuccesses: b.halfOpenSuccesses,
		HalfOpenFailures:  b.halfOpenFailures,
		LastFailureTime:   b.lastFailureTime,
	}
}
