package meter

import (
	"log/slog"

	"github.com/ineyio/rewriter"
)

// LogMeter logs rewrite events using slog. Credentials are always redacted.
type LogMeter struct {
	Logger *slog.Logger
}

var _ rewriter.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAttempt(e rewriter.AttemptEvent) {
	m.Logger.Info("attempt",
		"id", e.ID,
		"attempt", e.Attempt,
		"max_attempts", e.MaxAttempts,
		"provider", e.Provider,
		"credential", e.Credential.Redacted(),
		"model", e.Model,
		"eligible", e.Eligible,
		"pool", e.PoolSize,
		"language", e.Language,
		"style", e.Style,
		"estimated_tokens", e.EstimatedTokens,
	)
}

func (m *LogMeter) OnResult(a rewriter.CallAttempt) {
	if a.Outcome == rewriter.OutcomeSuccess {
		m.Logger.Info("result",
			"id", a.ID,
			"attempt", a.Attempt,
			"credential", a.Credential.Redacted(),
			"model", a.Model,
			"duration_ms", a.Duration.Milliseconds(),
			"prompt_tokens", a.Usage.PromptTokens,
			"completion_tokens", a.Usage.CompletionTokens,
		)
	} else {
		m.Logger.Warn("result_error",
			"id", a.ID,
			"attempt", a.Attempt,
			"credential", a.Credential.Redacted(),
			"model", a.Model,
			"duration_ms", a.Duration.Milliseconds(),
			"quarantined", a.Quarantined,
			"error", a.Err,
		)
	}
}

func (m *LogMeter) OnTransition(t rewriter.Transition) {
	m.Logger.Debug("transition",
		"from", t.From.String(),
		"to", t.To.String(),
		"attempt", t.Attempt,
	)
}
