package rewriter

import "context"

// CredentialStatus is the view of one credential on the current day.
type CredentialStatus struct {
	Credential  Credential
	Count       int64
	MinuteCount int
	InFlight    int
	Quarantined bool
	Eligible    bool
}

// Status is a snapshot of the shared state for the current day.
type Status struct {
	Day         Day
	DailyLimit  int
	MinuteLimit int
	Credentials []CredentialStatus
}

// Status reads the ledger, quarantine set, minute window and reservations
// for every credential of the pool.
func (r *Rewriter) Status(ctx context.Context) (Status, error) {
	now := r.clock.Now()
	day := DayOf(now, r.loc)

	counts, err := r.store.Counts(ctx, day)
	if err != nil {
		return Status{}, persistenceError("read usage", err)
	}
	disabled, err := r.store.Quarantined(ctx, day)
	if err != nil {
		return Status{}, persistenceError("read quarantine", err)
	}
	quarantined := make(map[Credential]bool, len(disabled))
	for _, c := range disabled {
		quarantined[c] = true
	}

	st := Status{
		Day:         day,
		DailyLimit:  r.cfg.DailyLimit,
		MinuteLimit: r.cfg.MinuteLimit,
		Credentials: make([]CredentialStatus, 0, len(r.pool)),
	}
	for _, c := range r.pool {
		cs := CredentialStatus{
			Credential:  c,
			Count:       counts[c],
			MinuteCount: r.window.Count(c, now),
			InFlight:    r.reserved.InFlight(c),
			Quarantined: quarantined[c],
		}
		cs.Eligible = !cs.Quarantined &&
			(r.cfg.DailyLimit <= 0 || cs.Count+int64(cs.InFlight) < int64(r.cfg.DailyLimit)) &&
			(r.cfg.MinuteLimit <= 0 || cs.MinuteCount+cs.InFlight < r.cfg.MinuteLimit)
		st.Credentials = append(st.Credentials, cs)
	}
	return st, nil
}
