package rewriter

import "time"

// Credential is an opaque API key identifying one quota bucket with the
// remote service.
type Credential string

// Redacted returns the credential masked down to its last six characters,
// suitable for logs.
func (c Credential) Redacted() string {
	const visible = 6
	if len(c) <= visible {
		return "..." + string(c)
	}
	return "..." + string(c[len(c)-visible:])
}

// Request describes a single rewrite call.
type Request struct {
	Text     string
	Style    string
	Language string

	// MaxAttempts and Backoff override the configured values when non-zero.
	MaxAttempts int
	Backoff     time.Duration
}

// Result is the outcome of a successful rewrite.
type Result struct {
	Text    string
	Usage   Usage
	Routing RoutingInfo
}

// Usage represents token usage information reported by the provider.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// RoutingInfo describes which credential and model served the request.
type RoutingInfo struct {
	Provider   string
	Credential string // redacted
	Model      string
	Attempts   int
	Eligible   int
	PoolSize   int
}

// Outcome is the result of a single call attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// CallAttempt records one select-call-observe cycle. It is never persisted.
type CallAttempt struct {
	ID          string
	Attempt     int
	At          time.Time
	Provider    string
	Credential  Credential
	Model       string
	Outcome     Outcome
	Duration    time.Duration
	Usage       Usage
	Err         error
	Quarantined bool
}

// IntPtr returns a pointer to the given int.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }
