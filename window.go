package rewriter

import (
	"sync"
	"time"
)

// minuteSpan is the width of the per-minute sliding window.
const minuteSpan = time.Minute

// MinuteWindow tracks recent call timestamps per credential in memory.
// It is lost on restart; per-minute limits are a courtesy throttle only.
type MinuteWindow struct {
	mu    sync.Mutex
	span  time.Duration
	calls map[Credential][]time.Time
}

// NewMinuteWindow creates an empty MinuteWindow.
func NewMinuteWindow() *MinuteWindow {
	return &MinuteWindow{
		span:  minuteSpan,
		calls: make(map[Credential][]time.Time),
	}
}

// RecordCall appends a call at the given time and prunes older entries.
func (w *MinuteWindow) RecordCall(credential Credential, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.calls[credential] = append(w.calls[credential], at)
	w.prune(credential, at)
}

// Count returns the number of calls within the window ending at now.
func (w *MinuteWindow) Count(credential Credential, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(credential, now)
	return len(w.calls[credential])
}

// ExceededMinute reports whether credential is at or over limit within the
// window ending at now. A limit <= 0 never reports exceeded.
func (w *MinuteWindow) ExceededMinute(credential Credential, limit int, now time.Time) bool {
	if limit <= 0 {
		return false
	}
	return w.Count(credential, now) >= limit
}

// prune drops timestamps older than span before now. Must be called with lock held.
func (w *MinuteWindow) prune(credential Credential, now time.Time) {
	calls, ok := w.calls[credential]
	if !ok {
		return
	}

	cutoff := now.Add(-w.span)
	valid := calls[:0]
	for _, t := range calls {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) == 0 {
		delete(w.calls, credential)
		return
	}
	w.calls[credential] = valid
}
