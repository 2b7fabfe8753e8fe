package rewriter

import (
	"context"
	"time"
)

// Selector computes the eligible credentials from the shared state and
// reserves the chosen one.
type Selector struct {
	ledger       UsageLedger
	quarantine   QuarantineStore
	window       *MinuteWindow
	reservations *Reservations
}

// NewSelector creates a Selector over the given state. Nil window or
// reservations get fresh, unshared instances.
func NewSelector(ledger UsageLedger, quarantine QuarantineStore, window *MinuteWindow, reservations *Reservations) *Selector {
	if window == nil {
		window = NewMinuteWindow()
	}
	if reservations == nil {
		reservations = NewReservations()
	}
	return &Selector{
		ledger:       ledger,
		quarantine:   quarantine,
		window:       window,
		reservations: reservations,
	}
}

// Selection is a reserved routing decision. It must be released through
// Selector.Release once the call outcome has been recorded.
type Selection struct {
	Credential Credential
	Model      string
	Eligible   int
}

// Eligible returns every credential of pool that is not quarantined on day,
// below dailyLimit and below minuteLimit at now. Calls in flight count
// against both limits. Pool order is preserved. A limit <= 0 disables that
// check.
func (s *Selector) Eligible(ctx context.Context, day Day, now time.Time, pool []Credential, dailyLimit, minuteLimit int) ([]Credential, error) {
	s.reservations.mu.Lock()
	defer s.reservations.mu.Unlock()
	return s.eligible(ctx, day, now, pool, dailyLimit, minuteLimit)
}

// Reserve computes the eligible set, chooses a credential with credentials
// and a model with models, and reserves the credential, all under one lock.
func (s *Selector) Reserve(ctx context.Context, day Day, now time.Time, pool []Credential, dailyLimit, minuteLimit int, credentials, models Picker, modelNames []string) (Selection, error) {
	s.reservations.mu.Lock()
	defer s.reservations.mu.Unlock()

	eligible, err := s.eligible(ctx, day, now, pool, dailyLimit, minuteLimit)
	if err != nil {
		return Selection{}, err
	}

	credential, model, err := Choose(credentials, models, eligible, modelNames)
	if err != nil {
		return Selection{}, err
	}
	s.reservations.reserve(credential)

	return Selection{Credential: credential, Model: model, Eligible: len(eligible)}, nil
}

// Release drops the reservation taken by Reserve.
func (s *Selector) Release(sel Selection) {
	s.reservations.Release(sel.Credential)
}

// eligible must be called with the reservations lock held.
func (s *Selector) eligible(ctx context.Context, day Day, now time.Time, pool []Credential, dailyLimit, minuteLimit int) ([]Credential, error) {
	var eligible []Credential
	for _, c := range pool {
		quarantined, err := s.quarantine.IsQuarantined(ctx, day, c)
		if err != nil {
			return nil, persistenceError("read quarantine", err)
		}
		if quarantined {
			continue
		}

		inflight := s.reservations.inflight[c]

		if dailyLimit > 0 {
			n, err := s.ledger.DailyCount(ctx, day, c)
			if err != nil {
				return nil, persistenceError("read usage", err)
			}
			if n+int64(inflight) >= int64(dailyLimit) {
				continue
			}
		}

		if minuteLimit > 0 && s.window.Count(c, now)+inflight >= minuteLimit {
			continue
		}

		eligible = append(eligible, c)
	}
	return eligible, nil
}

// ExceededDaily reports whether credential's count on day is at or over limit.
func (s *Selector) ExceededDaily(ctx context.Context, day Day, credential Credential, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	n, err := s.ledger.DailyCount(ctx, day, credential)
	if err != nil {
		return false, persistenceError("read usage", err)
	}
	return n >= int64(limit), nil
}

// Choose picks a credential from eligible with credentials and, with its own
// picker, a model from modelNames. An empty modelNames yields an empty model.
func Choose(credentials, models Picker, eligible []Credential, modelNames []string) (Credential, string, error) {
	if len(eligible) == 0 {
		return "", "", ErrNoEligibleCredential
	}

	credential := eligible[pickIndex(credentials, len(eligible))]

	var model string
	if len(modelNames) > 0 {
		model = modelNames[pickIndex(models, len(modelNames))]
	}
	return credential, model, nil
}

// pickIndex skips the picker for single-element sets and guards against
// out-of-range indexes.
func pickIndex(p Picker, n int) int {
	if n == 1 {
		return 0
	}
	i := p.Pick(n)
	if i < 0 || i >= n {
		return 0
	}
	return i
}
