// Package retry provides the backoff policies shared by the browser pool
// and the alert dispatcher.
package retry

import (
	"context"
	"time"
)

// Policy yields the delay to wait before a given attempt. Attempt numbers
// start at 1; a zero delay means proceed immediately.
type Policy interface {
	MaxAttempts() int
	Delay(attempt int) time.Duration
}

// Sequence is a fixed delay schedule: Delay(n) returns the n-th entry, so
// attempt counts and pauses are spelled out in one slice.
type Sequence []time.Duration

// MaxAttempts returns the number of scheduled attempts.
func (s Sequence) MaxAttempts() int { return len(s) }

// Delay returns the pause before the given 1-based attempt.
func (s Sequence) Delay(attempt int) time.Duration {
	if attempt < 1 || attempt > len(s) {
		return 0
	}
	return s[attempt-1]
}

// Linear waits Step*(attempt-1) before each attempt: nothing before the
// first, then a linearly growing pause.
type Linear struct {
	Attempts int
	Step     time.Duration
}

// MaxAttempts returns the configured attempt budget.
func (l Linear) MaxAttempts() int { return l.Attempts }

// Delay returns the pause before the given 1-based attempt.
func (l Linear) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return time.Duration(attempt-1) * l.Step
}

// Wait sleeps for the policy's delay before the given attempt, returning
// early with the context error on cancellation.
func Wait(ctx context.Context, p Policy, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
