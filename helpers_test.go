package rewriter_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	rw "github.com/ineyio/rewriter"
	"github.com/ineyio/rewriter/meter"
	"github.com/ineyio/rewriter/policy"
)

var testDay0 = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

// recordingWaiter returns immediately and records each requested duration.
type recordingWaiter struct {
	mu    sync.Mutex
	waits []time.Duration
	err   error
}

func (w *recordingWaiter) Wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.waits = append(w.waits, d)
	w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	return ctx.Err()
}

func (w *recordingWaiter) Waits() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.waits...)
}

// manualClock is a settable clock.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(t time.Time) *manualClock { return &manualClock{now: t} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingStore wraps a MemoryStore and fails selected operations.
type failingStore struct {
	*rw.MemoryStore
	failRead   bool
	failRecord bool
	failQuar   bool
}

var errDisk = errors.New("disk on fire")

func (s *failingStore) IsQuarantined(ctx context.Context, day rw.Day, c rw.Credential) (bool, error) {
	if s.failRead {
		return false, errDisk
	}
	return s.MemoryStore.IsQuarantined(ctx, day, c)
}

func (s *failingStore) RecordSuccess(ctx context.Context, day rw.Day, c rw.Credential) error {
	if s.failRecord {
		return errDisk
	}
	return s.MemoryStore.RecordSuccess(ctx, day, c)
}

func (s *failingStore) Quarantine(ctx context.Context, day rw.Day, c rw.Credential) error {
	if s.failQuar {
		return errDisk
	}
	return s.MemoryStore.Quarantine(ctx, day, c)
}

func testConfig(creds ...rw.Credential) rw.Config {
	return rw.Config{
		Credentials: creds,
		Models:      []string{"test-model"},
		DailyLimit:  -1,
		MinuteLimit: -1,
		MaxAttempts: 10,
		Backoff:     5 * time.Second,
	}
}

type fixture struct {
	r        *rw.Rewriter
	store    *rw.MemoryStore
	recorder *meter.Recorder
	waiter   *recordingWaiter
	clock    *manualClock
}

func newFixture(t *testing.T, cfg rw.Config, prov rw.Provider, opts ...rw.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    rw.NewMemoryStore(),
		recorder: &meter.Recorder{},
		waiter:   &recordingWaiter{},
		clock:    newManualClock(testDay0),
	}
	base := []rw.Option{
		rw.WithStateStore(f.store),
		rw.WithMeter(f.recorder),
		rw.WithWaiter(f.waiter),
		rw.WithClock(f.clock),
		rw.WithPicker(policy.First{}),
	}
	r, err := rw.New(cfg, prov, append(base, opts...)...)
	require.NoError(t, err)
	f.r = r
	return f
}

func (f *fixture) count(t *testing.T, c rw.Credential) int64 {
	t.Helper()
	n, err := f.store.DailyCount(context.Background(), f.r.Today(), c)
	require.NoError(t, err)
	return n
}

func (f *fixture) quarantined(t *testing.T) []rw.Credential {
	t.Helper()
	q, err := f.store.Quarantined(context.Background(), f.r.Today())
	require.NoError(t, err)
	return q
}
