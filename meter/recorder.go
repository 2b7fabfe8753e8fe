package meter

import (
	"sync"

	"github.com/ineyio/rewriter"
)

// Recorder keeps every event in memory. It is safe for concurrent use.
type Recorder struct {
	mu          sync.Mutex
	attempts    []rewriter.AttemptEvent
	results     []rewriter.CallAttempt
	transitions []rewriter.Transition
}

var _ rewriter.Meter = (*Recorder)(nil)

func (r *Recorder) OnAttempt(e rewriter.AttemptEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, e)
}

func (r *Recorder) OnResult(a rewriter.CallAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, a)
}

func (r *Recorder) OnTransition(t rewriter.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

// Attempts returns a copy of the recorded attempt events.
func (r *Recorder) Attempts() []rewriter.AttemptEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rewriter.AttemptEvent(nil), r.attempts...)
}

// Results returns a copy of the recorded call attempts.
func (r *Recorder) Results() []rewriter.CallAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rewriter.CallAttempt(nil), r.results...)
}

// Transitions returns a copy of the recorded transitions.
func (r *Recorder) Transitions() []rewriter.Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rewriter.Transition(nil), r.transitions...)
}

// States returns the target state of every recorded transition, in order.
func (r *Recorder) States() []rewriter.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]rewriter.State, 0, len(r.transitions))
	for _, t := range r.transitions {
		out = append(out, t.To)
	}
	return out
}

// Summary counts successes, failures and quarantines.
type Summary struct {
	Successes   int
	Failures    int
	Quarantines int
}

// Summary aggregates the recorded results.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Summary
	for _, a := range r.results {
		if a.Outcome == rewriter.OutcomeSuccess {
			s.Successes++
		} else {
			s.Failures++
		}
		if a.Quarantined {
			s.Quarantines++
		}
	}
	return s
}

// Multi fans events out to several meters.
type Multi []rewriter.Meter

var _ rewriter.Meter = Multi(nil)

func (m Multi) OnAttempt(e rewriter.AttemptEvent) {
	for _, mm := range m {
		mm.OnAttempt(e)
	}
}

func (m Multi) OnResult(a rewriter.CallAttempt) {
	for _, mm := range m {
		mm.OnResult(a)
	}
}

func (m Multi) OnTransition(t rewriter.Transition) {
	for _, mm := range m {
		mm.OnTransition(t)
	}
}
