// Package storetest holds a behavioural suite every rewriter.StateStore
// implementation must pass.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/rewriter"
)

const (
	day1 rewriter.Day = "2025-03-14"
	day2 rewriter.Day = "2025-03-15"
)

// Run exercises newStore against the StateStore contract. newStore must
// return an empty store isolated from other subtests.
func Run(t *testing.T, newStore func(t *testing.T) rewriter.StateStore) {
	t.Run("EmptyDay", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.DailyCount(ctx, day1, "key-a")
		require.NoError(t, err)
		assert.Zero(t, n)

		counts, err := s.Counts(ctx, day1)
		require.NoError(t, err)
		assert.Empty(t, counts)

		q, err := s.IsQuarantined(ctx, day1, "key-a")
		require.NoError(t, err)
		assert.False(t, q)

		list, err := s.Quarantined(ctx, day1)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("RecordSuccessIncrements", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for range 3 {
			require.NoError(t, s.RecordSuccess(ctx, day1, "key-a"))
		}
		require.NoError(t, s.RecordSuccess(ctx, day1, "key-b"))

		n, err := s.DailyCount(ctx, day1, "key-a")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		counts, err := s.Counts(ctx, day1)
		require.NoError(t, err)
		assert.Equal(t, map[rewriter.Credential]int64{"key-a": 3, "key-b": 1}, counts)
	})

	t.Run("DaysArePartitioned", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.RecordSuccess(ctx, day1, "key-a"))
		require.NoError(t, s.Quarantine(ctx, day1, "key-b"))

		n, err := s.DailyCount(ctx, day2, "key-a")
		require.NoError(t, err)
		assert.Zero(t, n)

		q, err := s.IsQuarantined(ctx, day2, "key-b")
		require.NoError(t, err)
		assert.False(t, q)
	})

	t.Run("QuarantineIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Quarantine(ctx, day1, "key-c"))
		require.NoError(t, s.Quarantine(ctx, day1, "key-a"))
		require.NoError(t, s.Quarantine(ctx, day1, "key-c"))

		q, err := s.IsQuarantined(ctx, day1, "key-c")
		require.NoError(t, err)
		assert.True(t, q)

		list, err := s.Quarantined(ctx, day1)
		require.NoError(t, err)
		assert.Equal(t, []rewriter.Credential{"key-a", "key-c"}, list)
	})

	t.Run("ConcurrentRecordSuccess", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const workers, perWorker = 8, 10
		var wg sync.WaitGroup
		errs := make(chan error, workers*perWorker)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range perWorker {
					if err := s.RecordSuccess(ctx, day1, "key-a"); err != nil {
						errs <- err
					}
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		n, err := s.DailyCount(ctx, day1, "key-a")
		require.NoError(t, err)
		assert.Equal(t, int64(workers*perWorker), n)
	})
}
