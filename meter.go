package rewriter

// Meter observes rewrite events for monitoring/logging.
type Meter interface {
	// OnAttempt is called when a credential and model were chosen, before
	// the remote call.
	OnAttempt(event AttemptEvent)

	// OnResult is called when the remote call of an attempt returned.
	OnResult(attempt CallAttempt)

	// OnTransition is called on every state machine transition.
	OnTransition(t Transition)
}

// AttemptEvent describes a routing decision.
type AttemptEvent struct {
	ID              string
	Attempt         int
	MaxAttempts     int
	Provider        string
	Credential      Credential
	Model           string
	Eligible        int
	PoolSize        int
	EstimatedTokens int64
	Language        string
	Style           string
}

// Transition describes a state change within one Rewrite call.
type Transition struct {
	From    State
	To      State
	Attempt int
}
