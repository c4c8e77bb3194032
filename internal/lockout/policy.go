// Package lockout holds the account lockout state machine. It is pure:
// counters and lock records live in the principal repository, this package
// only decides what they mean.
package lockout

import "time"

// Kind is the lockout state of an account.
type Kind uint8

const (
	Unlocked Kind = iota
	Locked
)

func (k Kind) String() string {
	if k == Locked {
		return "locked"
	}
	return "unlocked"
}

// State is the effective lockout state at a given instant.
type State struct {
	Kind           Kind
	FailedAttempts int
	LockedUntil    time.Time
}

// RetryAfter is the time left on a lock, or zero when unlocked.
func (s State) RetryAfter(now time.Time) time.Duration {
	if s.Kind != Locked {
		return 0
	}
	if d := s.LockedUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}

// StateOf derives the effective state from a stored record. A lock whose
// expiry has passed reads as unlocked even if the record was never rewritten.
func StateOf(locked bool, failedAttempts int, lockedUntil, now time.Time) State {
	if locked && now.Before(lockedUntil) {
		return State{Kind: Locked, FailedAttempts: failedAttempts, LockedUntil: lockedUntil}
	}
	return State{Kind: Unlocked, FailedAttempts: failedAttempts}
}

// Policy is the lockout configuration.
type Policy struct {
	// Threshold is M, the number of consecutive failures that locks the account.
	Threshold int
	// BackoffBase is the duration of the first lock.
	BackoffBase time.Duration
	// BackoffCap bounds every lock.
	BackoffCap time.Duration
}

// Enabled reports whether the policy ever locks.
func (p Policy) Enabled() bool {
	return p.Threshold > 0 && p.BackoffBase > 0
}

// Backoff returns the lock duration for the k-th lock event (1-based):
// min(cap, base * 2^(k-1)).
func (p Policy) Backoff(k int) time.Duration {
	if k < 1 {
		k = 1
	}
	limit := p.BackoffCap
	if limit <= 0 {
		limit = p.BackoffBase
	}

	d := p.BackoffBase
	for i := 1; i < k; i++ {
		if d >= limit/2 {
			return limit
		}
		d *= 2
	}
	return min(d, limit)
}

// Transition is the outcome of recording one failed attempt.
type Transition struct {
	// Lock is set when the caller must persist a lock.
	Lock bool
	// Until is the lock expiry when Lock is set.
	Until time.Time
	// LockCount is the lock event number the new lock represents.
	LockCount int
}

// OnFailure decides what to do after the durable failure counter reached
// failedAttempts. priorLocks is the number of locks already recorded.
//
// The caller persists the lock conditionally on the counter still being at
// or above Threshold and on priorLocks being unchanged, so concurrent
// failures past the threshold collapse into a single lock event.
func (p Policy) OnFailure(failedAttempts, priorLocks int, now time.Time) Transition {
	if !p.Enabled() || failedAttempts < p.Threshold {
		return Transition{}
	}
	next := priorLocks + 1
	return Transition{
		Lock:      true,
		Until:     now.Add(p.Backoff(next)),
		LockCount: next,
	}
}
