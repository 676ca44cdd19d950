// Package lockout implements the per-principal account lockout state machine.
//
// States are derived on read from two stored fields, the consecutive failure
// count and the nullable locked-until time, rather than kept in memory. Stores
// apply [Policy.AfterFailure] as a single atomic update so concurrent failures
// are never lost.
package lockout

import (
	"errors"
	"time"
)

// Kind tags a lockout [State].
type Kind int

const (
	// Active principals may attempt authentication.
	Active Kind = iota
	// Locked principals are rejected without a password comparison until Until.
	Locked
)

func (k Kind) String() string {
	if k == Locked {
		return "locked"
	}
	return "active"
}

// State is the lockout status of one principal at a point in time.
type State struct {
	Kind     Kind
	Until    time.Time
	Failures int
}

// Locked reports whether s rejects authentication.
func (s State) Locked() bool {
	return s.Kind == Locked
}

// Policy configures when a principal is locked and for how long.
type Policy struct {
	Threshold int
	Cooldown  time.Duration
}

// DefaultPolicy locks after 5 consecutive failures for 30 minutes.
func DefaultPolicy() Policy {
	return Policy{Threshold: 5, Cooldown: 30 * time.Minute}
}

// Validate rejects unusable policies.
func (p Policy) Validate() error {
	if p.Threshold < 1 {
		return errors.New("lockout threshold must be >= 1")
	}
	if p.Cooldown <= 0 {
		return errors.New("lockout cooldown must be positive")
	}
	return nil
}

// Evaluate derives the state of a principal from its stored fields. A lock
// whose time has passed reads as Active with a cleared failure count.
func Evaluate(failures int, lockedUntil *time.Time, now time.Time) State {
	if lockedUntil != nil {
		if now.Before(*lockedUntil) {
			return State{Kind: Locked, Until: *lockedUntil, Failures: failures}
		}
		return State{Kind: Active}
	}
	if failures < 0 {
		failures = 0
	}
	return State{Kind: Active, Failures: failures}
}

// AfterFailure returns the stored fields after one more failed attempt at now.
// Stores that cannot run it in-process must express the same rule as one
// conditional update.
func (p Policy) AfterFailure(failures int, lockedUntil *time.Time, now time.Time) (int, *time.Time) {
	if lockedUntil != nil && !now.Before(*lockedUntil) {
		// The previous lock has lapsed; counting restarts.
		failures = 0
		lockedUntil = nil
	}
	failures++
	if failures >= p.Threshold {
		until := now.Add(p.Cooldown)
		return failures, &until
	}
	return failures, lockedUntil
}
