package rewriter

import (
	"context"
	"time"
)

// Day is a calendar day in "2006-01-02" form. Stores are partitioned by Day.
type Day string

// DayLayout is the layout used to format a Day.
const DayLayout = "2006-01-02"

// DayOf returns the calendar day of t in loc. A nil loc means UTC.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return Day(t.In(loc).Format(DayLayout))
}

// UsageLedger keeps durable per-day call counts for each credential.
type UsageLedger interface {
	// RecordSuccess increments the count for credential on day by one.
	// It must not return before the increment is durable.
	RecordSuccess(ctx context.Context, day Day, credential Credential) error

	// DailyCount returns the count for credential on day, 0 if absent.
	DailyCount(ctx context.Context, day Day, credential Credential) (int64, error)

	// Counts returns every non-zero count recorded on day.
	Counts(ctx context.Context, day Day) (map[Credential]int64, error)
}

// QuarantineStore keeps durable per-day sets of disabled credentials.
type QuarantineStore interface {
	// Quarantine disables credential for the rest of day. Idempotent.
	Quarantine(ctx context.Context, day Day, credential Credential) error

	// IsQuarantined reports whether credential is disabled on day.
	IsQuarantined(ctx context.Context, day Day, credential Credential) (bool, error)

	// Quarantined returns the credentials disabled on day, sorted.
	Quarantined(ctx context.Context, day Day) ([]Credential, error)
}

// StateStore combines the ledger and the quarantine set. All Rewriter
// invocations share one StateStore.
type StateStore interface {
	UsageLedger
	QuarantineStore
}
