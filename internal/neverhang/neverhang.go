// Package neverhang implements the NEVERHANG circuit breaker: a three-state
// machine (spec.md §4.5) that suppresses command submission after repeated
// timeouts, grounded on the sliding-window dedup style of the teacher's
// internal/metrics/alerts.go AlertChecker (its shouldAlert time-window
// cleanup is the same shape as this breaker's failure-window pruning).
package neverhang

import (
	"fmt"
	"sync"
	"time"
)

// State is one of the three circuit-breaker states.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

type failure struct {
	at          time.Time
	fingerprint string
}

// Transition describes one state change, published on the Bus by callers.
type Transition struct {
	From        State  `json:"from"`
	To          State  `json:"to"`
	Reason      string `json:"reason"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Breaker is the process-wide (or per-test-isolated) NEVERHANG instance.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration
	sampleWindow     time.Duration

	state     State
	failures  []failure
	openedAt  time.Time

	onTransition func(Transition)
}

// New constructs a Breaker in the CLOSED state.
func New(failureThreshold int, recoveryTimeout, sampleWindow time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		sampleWindow:     sampleWindow,
		state:            Closed,
	}
}

// OnTransition registers a callback fired whenever the state changes. Used
// to publish neverhang.transition events on the Bus and fire the optional
// desktop toast.
func (b *Breaker) OnTransition(fn func(Transition)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

func (b *Breaker) transition(from, to State, reason, fingerprint string) {
	b.state = to
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(Transition{From: from, To: to, Reason: reason, Fingerprint: fingerprint})
	}
}

// RecordTimeout appends a failure and, if the failure window reaches
// failureThreshold, opens the circuit.
func (b *Breaker) RecordTimeout(fingerprint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.pruneFailuresLocked(now)
	b.failures = append(b.failures, failure{at: now, fingerprint: fingerprint})

	switch b.state {
	case Closed:
		if len(b.failures) >= b.failureThreshold {
			b.openedAt = now
			b.transition(Closed, Open, "failure_threshold_reached", fingerprint)
		}
	case HalfOpen:
		b.openedAt = now
		b.transition(HalfOpen, Open, "timeout_during_recovery_test", fingerprint)
	}
}

// RecordSuccess clears the breaker back to CLOSED when called from
// HALF_OPEN; it has no effect from CLOSED or OPEN.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.failures = nil
		b.openedAt = time.Time{}
		b.transition(HalfOpen, Closed, "success_during_recovery_test", "")
	}
}

// Reset unconditionally clears the breaker to CLOSED.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	from := b.state
	b.failures = nil
	b.openedAt = time.Time{}
	b.transition(from, Closed, "explicit_reset", "")
}

func (b *Breaker) pruneFailuresLocked(now time.Time) {
	cutoff := now.Add(-b.sampleWindow)
	kept := b.failures[:0]
	for _, f := range b.failures {
		if f.at.After(cutoff) {
			kept = append(kept, f)
		}
	}
	b.failures = kept
}

// ShouldAllow reports whether a new command submission is permitted, and an
// explanatory message when it is not (or when entering the HALF_OPEN test).
func (b *Breaker) ShouldAllow() (allowed bool, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case Closed:
		return true, ""
	case Open:
		if now.Sub(b.openedAt) > b.recoveryTimeout {
			b.transition(Open, HalfOpen, "recovery_timeout_elapsed", "")
			return true, "testing recovery"
		}
		retryIn := b.recoveryTimeout - now.Sub(b.openedAt)
		return false, fmt.Sprintf("circuit open, retry in %.0fs", retryIn.Seconds())
	case HalfOpen:
		return true, "testing recovery"
	}
	return true, ""
}

// Status is the JSON-serializable snapshot returned by zsh_neverhang_status.
type Status struct {
	State          State   `json:"state"`
	FailureCount   int     `json:"failure_count"`
	OpenedAt       *string `json:"opened_at,omitempty"`
	RecoveryInSecs *float64 `json:"recovery_in_seconds,omitempty"`
}

// GetStatus exposes the full breaker state for health checks.
func (b *Breaker) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.pruneFailuresLocked(now)

	status := Status{
		State:        b.state,
		FailureCount: len(b.failures),
	}
	if !b.openedAt.IsZero() {
		openedAtStr := b.openedAt.Format(time.RFC3339)
		status.OpenedAt = &openedAtStr
		if b.state == Open {
			remaining := b.recoveryTimeout - now.Sub(b.openedAt)
			if remaining < 0 {
				remaining = 0
			}
			secs := remaining.Seconds()
			status.RecoveryInSecs = &secs
		}
	}
	return status
}
