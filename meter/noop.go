package meter

import "github.com/ineyio/rewriter"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ rewriter.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnAttempt(rewriter.AttemptEvent)  {}
func (m *NoopMeter) OnResult(rewriter.CallAttempt)    {}
func (m *NoopMeter) OnTransition(rewriter.Transition) {}
