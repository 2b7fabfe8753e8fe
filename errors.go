package rewriter

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by Rewrite.
var (
	ErrNoEligibleCredential = errors.New("rewriter: no eligible credential")
	ErrRemoteCallFailed     = errors.New("rewriter: remote call failed")
	ErrExhaustedRetries     = errors.New("rewriter: exhausted retries")
	ErrPersistence          = errors.New("rewriter: persistence failure")
)

// Classification errors returned by provider adapters. They are informational:
// the orchestrator quarantines the credential for every one of them.
var (
	ErrRateLimited         = errors.New("rewriter: rate limited by provider")
	ErrAuthFailed          = errors.New("rewriter: authentication failed")
	ErrInvalidRequest      = errors.New("rewriter: invalid request")
	ErrProviderUnavailable = errors.New("rewriter: provider unavailable")
	ErrEmptyResponse       = errors.New("rewriter: empty response")
)

// RewriteError wraps a terminal error with routing context.
type RewriteError struct {
	Err         error
	LastErr     error
	Credential  string // redacted, last credential tried
	Model       string
	Attempts    int
	Quarantined int
}

func (e *RewriteError) Error() string {
	msg := fmt.Sprintf("%v: credential=%s model=%s attempts=%d quarantined=%d",
		e.Err, e.Credential, e.Model, e.Attempts, e.Quarantined)
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *RewriteError) Unwrap() []error {
	if e.LastErr == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.LastErr}
}

// persistenceError marks a store failure.
func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// IsTerminal returns true if the error ends a Rewrite call without a result.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNoEligibleCredential) ||
		errors.Is(err, ErrExhaustedRetries) ||
		errors.Is(err, ErrPersistence)
}
