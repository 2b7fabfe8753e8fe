package rewriter

import (
	"context"
	"time"
)

// State is a step of the rewrite state machine.
type State int

const (
	StateSelecting State = iota
	StateCalling
	StateBackoff
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSelecting:
		return "selecting"
	case StateCalling:
		return "calling"
	case StateBackoff:
		return "backoff"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal returns true for Succeeded and Failed.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Waiter is the suspension point of the Backoff state.
type Waiter interface {
	// Wait suspends for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Wait(ctx context.Context, d time.Duration) error
}

// TimerWaiter waits on a timer. It is the default Waiter.
type TimerWaiter struct{}

func (TimerWaiter) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
