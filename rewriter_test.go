package rewriter_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rw "github.com/ineyio/rewriter"
	"github.com/ineyio/rewriter/policy"
	"github.com/ineyio/rewriter/provider/mock"
)

func TestRewrite_FirstCallSuccess(t *testing.T) {
	prov := mock.New(mock.WithText("  Polished text.  "))
	f := newFixture(t, testConfig("key-a", "key-b", "key-c"), prov)

	res, err := f.r.Rewrite(context.Background(), rw.Request{Text: "um hi", Style: "formal"})
	require.NoError(t, err)

	assert.Equal(t, "Polished text.", res.Text)
	assert.Equal(t, 1, res.Routing.Attempts)
	assert.Equal(t, 3, res.Routing.Eligible)
	assert.Equal(t, 3, res.Routing.PoolSize)
	assert.Equal(t, "mock", res.Routing.Provider)
	assert.Equal(t, "test-model", res.Routing.Model)
	assert.Equal(t, rw.Credential("key-a").Redacted(), res.Routing.Credential)
	assert.Equal(t, int64(30), res.Usage.TotalTokens)

	assert.Equal(t, int64(1), prov.CallCount())
	assert.Equal(t, int64(1), f.count(t, "key-a"))
	assert.Empty(t, f.quarantined(t))
	assert.Empty(t, f.waiter.Waits())

	sum := f.recorder.Summary()
	assert.Equal(t, 1, sum.Successes)
	assert.Equal(t, 0, sum.Quarantines)
}

func TestRewrite_AlwaysFailingStopsAfterMaxAttempts(t *testing.T) {
	prov := mock.New(mock.WithError(rw.ErrRateLimited))
	cfg := testConfig("key-a", "key-b", "key-c", "key-d", "key-e")
	cfg.MaxAttempts = 3
	f := newFixture(t, cfg, prov)

	_, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello", Style: "casual"})
	require.Error(t, err)

	assert.ErrorIs(t, err, rw.ErrExhaustedRetries)
	assert.ErrorIs(t, err, rw.ErrRemoteCallFailed)
	assert.ErrorIs(t, err, rw.ErrRateLimited)
	assert.True(t, rw.IsTerminal(err))

	var rerr *rw.RewriteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 3, rerr.Attempts)
	assert.Equal(t, 3, rerr.Quarantined)

	assert.Equal(t, int64(3), prov.CallCount())
	assert.Equal(t, []rw.Credential{"key-a", "key-b", "key-c"}, f.quarantined(t))
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, f.waiter.Waits())
	assert.Equal(t, 3, f.recorder.Summary().Quarantines)
}

func TestRewrite_DrainsPool(t *testing.T) {
	prov := mock.New(mock.WithError(rw.ErrAuthFailed))
	f := newFixture(t, testConfig("key-a", "key-b"), prov)

	_, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, rw.ErrNoEligibleCredential)
	assert.NotErrorIs(t, err, rw.ErrExhaustedRetries)

	var rerr *rw.RewriteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 2, rerr.Attempts)
	assert.Equal(t, 2, rerr.Quarantined)
	assert.ErrorIs(t, rerr.LastErr, rw.ErrAuthFailed)

	assert.Equal(t, int64(2), prov.CallCount())
	assert.Len(t, f.quarantined(t), 2)
}

func TestRewrite_RequestOverridesAttemptsAndBackoff(t *testing.T) {
	prov := mock.New(mock.WithError(rw.ErrProviderUnavailable))
	f := newFixture(t, testConfig("key-a", "key-b", "key-c"), prov)

	_, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hi", MaxAttempts: 2, Backoff: time.Millisecond})
	require.ErrorIs(t, err, rw.ErrExhaustedRetries)
	assert.Equal(t, int64(2), prov.CallCount())
	assert.Equal(t, []time.Duration{time.Millisecond}, f.waiter.Waits())
}

func TestRewrite_FailoverToHealthyKey(t *testing.T) {
	prov := mock.New(mock.WithKeyError("key-a", rw.ErrRateLimited))
	f := newFixture(t, testConfig("key-a", "key-b", "key-c"), prov)

	res, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Routing.Attempts)
	assert.Equal(t, 2, res.Routing.Eligible)
	assert.Equal(t, rw.Credential("key-b").Redacted(), res.Routing.Credential)
	assert.Equal(t, []string{"key-a", "key-b"}, prov.Keys())
	assert.Equal(t, []rw.Credential{"key-a"}, f.quarantined(t))
	assert.Equal(t, int64(0), f.count(t, "key-a"))
	assert.Equal(t, int64(1), f.count(t, "key-b"))
}

func TestRewrite_DailyLimitRotatesCredentials(t *testing.T) {
	prov := mock.New()
	cfg := testConfig("key-a", "key-b", "key-c")
	cfg.DailyLimit = 2
	f := newFixture(t, cfg, prov)

	for range 2 {
		res, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
		require.NoError(t, err)
		assert.Equal(t, rw.Credential("key-a").Redacted(), res.Routing.Credential)
	}

	res, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.NoError(t, err)
	assert.NotEqual(t, rw.Credential("key-a").Redacted(), res.Routing.Credential)
	assert.Equal(t, 2, res.Routing.Eligible)
	assert.Equal(t, []string{"key-a", "key-a", "key-b"}, prov.Keys())
}

func TestRewrite_DailyLimitResetsNextDay(t *testing.T) {
	prov := mock.New()
	cfg := testConfig("key-a")
	cfg.DailyLimit = 1
	f := newFixture(t, cfg, prov)

	_, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.NoError(t, err)

	_, err = f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.ErrorIs(t, err, rw.ErrNoEligibleCredential)

	var rerr *rw.RewriteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 0, rerr.Attempts)

	f.clock.Advance(24 * time.Hour)
	_, err = f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.NoError(t, err)
}

func TestRewrite_MinuteLimit(t *testing.T) {
	prov := mock.New()
	cfg := testConfig("key-a", "key-b")
	cfg.MinuteLimit = 1
	f := newFixture(t, cfg, prov)
	ctx := context.Background()

	_, err := f.r.Rewrite(ctx, rw.Request{Text: "1"})
	require.NoError(t, err)
	_, err = f.r.Rewrite(ctx, rw.Request{Text: "2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"key-a", "key-b"}, prov.Keys())

	_, err = f.r.Rewrite(ctx, rw.Request{Text: "3"})
	require.ErrorIs(t, err, rw.ErrNoEligibleCredential)
	assert.Empty(t, f.quarantined(t), "a throttled key is not a failed key")

	f.clock.Advance(61 * time.Second)
	res, err := f.r.Rewrite(ctx, rw.Request{Text: "4"})
	require.NoError(t, err)
	assert.Equal(t, rw.Credential("key-a").Redacted(), res.Routing.Credential)
}

func TestRewrite_QuarantineIsDayScoped(t *testing.T) {
	failing := mock.New(mock.WithKeyError("key-a", rw.ErrRateLimited))
	cfg := testConfig("key-a", "key-b")
	f := newFixture(t, cfg, failing)
	ctx := context.Background()

	_, err := f.r.Rewrite(ctx, rw.Request{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []rw.Credential{"key-a"}, f.quarantined(t))

	f.clock.Advance(24 * time.Hour)
	q, err := f.store.IsQuarantined(ctx, f.r.Today(), "key-a")
	require.NoError(t, err)
	assert.False(t, q)

	st, err := f.r.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Credentials[0].Eligible)
}

func TestRewrite_SharedStoreAcrossRewriters(t *testing.T) {
	store := rw.NewMemoryStore()
	clock := newManualClock(testDay0)
	cfg := testConfig("key-a", "key-b")
	cfg.DailyLimit = 1

	newRewriter := func() *rw.Rewriter {
		r, err := rw.New(cfg, mock.New(),
			rw.WithStateStore(store),
			rw.WithClock(clock),
			rw.WithPicker(policy.First{}),
			rw.WithWaiter(&recordingWaiter{}),
		)
		require.NoError(t, err)
		return r
	}
	r1, r2 := newRewriter(), newRewriter()

	res1, err := r1.Rewrite(context.Background(), rw.Request{Text: "a"})
	require.NoError(t, err)
	res2, err := r2.Rewrite(context.Background(), rw.Request{Text: "b"})
	require.NoError(t, err)

	assert.NotEqual(t, res1.Routing.Credential, res2.Routing.Credential)

	_, err = r1.Rewrite(context.Background(), rw.Request{Text: "c"})
	assert.ErrorIs(t, err, rw.ErrNoEligibleCredential)
}

func TestRewrite_PersistenceFailureOnRead(t *testing.T) {
	prov := mock.New()
	store := &failingStore{MemoryStore: rw.NewMemoryStore(), failRead: true}
	f := newFixture(t, testConfig("key-a"), prov, rw.WithStateStore(store))

	_, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.ErrorIs(t, err, rw.ErrPersistence)
	assert.ErrorIs(t, err, errDisk)
	assert.Equal(t, int64(0), prov.CallCount())
}

func TestRewrite_PersistenceFailureOnRecord(t *testing.T) {
	prov := mock.New()
	store := &failingStore{MemoryStore: rw.NewMemoryStore(), failRecord: true}
	f := newFixture(t, testConfig("key-a", "key-b"), prov, rw.WithStateStore(store))

	_, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.ErrorIs(t, err, rw.ErrPersistence)
	assert.Equal(t, int64(1), prov.CallCount(), "no retry after a persistence failure")
	assert.Empty(t, f.waiter.Waits())
}

func TestRewrite_PersistenceFailureOnQuarantine(t *testing.T) {
	prov := mock.New(mock.WithError(rw.ErrRateLimited))
	store := &failingStore{MemoryStore: rw.NewMemoryStore(), failQuar: true}
	f := newFixture(t, testConfig("key-a", "key-b"), prov, rw.WithStateStore(store))

	_, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.ErrorIs(t, err, rw.ErrPersistence)
	assert.Equal(t, int64(1), prov.CallCount())
}

func TestRewrite_CallerCancellationDoesNotQuarantine(t *testing.T) {
	prov := mock.New(mock.WithLatency(time.Second))
	f := newFixture(t, testConfig("key-a", "key-b"), prov)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.r.Rewrite(ctx, rw.Request{Text: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, rw.ErrExhaustedRetries)
	assert.Empty(t, f.quarantined(t))
	assert.Empty(t, f.waiter.Waits())
}

func TestRewrite_BackoffInterrupted(t *testing.T) {
	prov := mock.New(mock.WithError(rw.ErrRateLimited))
	waiter := &recordingWaiter{err: context.Canceled}
	f := newFixture(t, testConfig("key-a", "key-b"), prov, rw.WithWaiter(waiter))

	_, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "backoff interrupted after attempt 1")
	assert.Equal(t, int64(1), prov.CallCount())
	assert.Len(t, f.quarantined(t), 1)
}

func TestRewrite_EmptyResponseQuarantines(t *testing.T) {
	prov := mock.New(mock.WithText("   "))
	cfg := testConfig("key-a", "key-b")
	cfg.MaxAttempts = 1
	f := newFixture(t, cfg, prov)

	_, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.ErrorIs(t, err, rw.ErrExhaustedRetries)
	assert.ErrorIs(t, err, rw.ErrEmptyResponse)
	assert.Equal(t, []rw.Credential{"key-a"}, f.quarantined(t))
	assert.Equal(t, int64(0), f.count(t, "key-a"))
}

func TestRewrite_Transitions(t *testing.T) {
	prov := mock.New(mock.WithKeyError("key-a", rw.ErrRateLimited))
	f := newFixture(t, testConfig("key-a", "key-b"), prov)

	_, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, []rw.State{
		rw.StateCalling,
		rw.StateBackoff,
		rw.StateSelecting,
		rw.StateCalling,
		rw.StateSucceeded,
	}, f.recorder.States())

	attempts := f.recorder.Attempts()
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].Attempt)
	assert.Equal(t, 2, attempts[1].Attempt)
	assert.NotEqual(t, attempts[0].ID, attempts[1].ID)
	assert.Equal(t, 2, attempts[0].Eligible)
	assert.Equal(t, 1, attempts[1].Eligible)
	assert.Positive(t, attempts[0].EstimatedTokens)

	results := f.recorder.Results()
	require.Len(t, results, 2)
	assert.Equal(t, rw.OutcomeFailure, results[0].Outcome)
	assert.True(t, results[0].Quarantined)
	assert.Equal(t, rw.OutcomeSuccess, results[1].Outcome)
	assert.Equal(t, attempts[0].ID, results[0].ID)
}

func TestRewrite_PromptReachesProvider(t *testing.T) {
	prov := mock.New(mock.WithResponseFunc(mock.Echo()))
	f := newFixture(t, testConfig("key-a"), prov)

	res, err := f.r.Rewrite(context.Background(), rw.Request{Text: "bonjour", Style: "poetic", Language: "fr"})
	require.NoError(t, err)
	assert.Equal(t, "BONJOUR", res.Text)

	calls := prov.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, rw.BuildPrompt("bonjour", "poetic", "fr"), calls[0].Prompt)
	assert.Equal(t, "key-a", calls[0].Auth.APIKey)
	assert.Equal(t, "test-model", calls[0].Model)
}

func TestRewrite_ModelChosenFromVariants(t *testing.T) {
	prov := mock.New()
	cfg := testConfig("key-a", "key-b")
	cfg.Models = []string{"model-x", "model-y"}
	f := newFixture(t, cfg, prov,
		rw.WithPicker(&policy.Sequence{Indexes: []int{1}}),
		rw.WithModelPicker(&policy.Sequence{Indexes: []int{1}}),
	)

	res, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "model-y", res.Routing.Model)
	assert.Equal(t, rw.Credential("key-b").Redacted(), res.Routing.Credential)
}

func TestRewrite_RoundRobinRotatesModels(t *testing.T) {
	prov := mock.New()
	cfg := testConfig("key-a", "key-b", "key-c")
	cfg.Models = []string{"model-x", "model-y"}
	f := newFixture(t, cfg, prov,
		rw.WithPicker(&policy.RoundRobin{}),
		rw.WithModelPicker(&policy.RoundRobin{}),
	)

	var models []string
	for range 4 {
		res, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
		require.NoError(t, err)
		models = append(models, res.Routing.Model)
	}
	assert.Equal(t, []string{"model-x", "model-y", "model-x", "model-y"}, models)
}

func TestRewrite_GenerationSettingsReachProvider(t *testing.T) {
	prov := mock.New()
	cfg := testConfig("key-a")
	cfg.Temperature = rw.Float64Ptr(0.4)
	cfg.MaxOutputTokens = rw.IntPtr(512)
	f := newFixture(t, cfg, prov)

	_, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.NoError(t, err)

	calls := prov.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Temperature)
	assert.Equal(t, 0.4, *calls[0].Temperature)
	require.NotNil(t, calls[0].MaxTokens)
	assert.Equal(t, 512, *calls[0].MaxTokens)
}

func TestRewrite_ProviderOutageAfterSuccess(t *testing.T) {
	prov := mock.New(mock.WithFailAfter(1))
	cfg := testConfig("key-a", "key-b")
	f := newFixture(t, cfg, prov)
	ctx := context.Background()

	_, err := f.r.Rewrite(ctx, rw.Request{Text: "hello"})
	require.NoError(t, err)

	_, err = f.r.Rewrite(ctx, rw.Request{Text: "hello"})
	require.ErrorIs(t, err, rw.ErrNoEligibleCredential)
	assert.ErrorIs(t, err, rw.ErrProviderUnavailable)
	assert.Equal(t, []rw.Credential{"key-a", "key-b"}, f.quarantined(t))
	assert.Equal(t, int64(1), f.count(t, "key-a"))
}

func TestRewrite_ConcurrentAccumulation(t *testing.T) {
	prov := mock.New()
	cfg := testConfig("key-a", "key-b", "key-c")
	f := newFixture(t, cfg, prov, rw.WithPicker(policy.NewRandom(42)))

	const calls = 60
	var wg sync.WaitGroup
	errs := make(chan error, calls)
	for range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	counts, err := f.store.Counts(context.Background(), f.r.Today())
	require.NoError(t, err)
	var total int64
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, int64(calls), total)
}

func TestRewrite_DailyLimitHoldsUnderOverlappingCalls(t *testing.T) {
	prov := mock.New(mock.WithLatency(50 * time.Millisecond))
	cfg := testConfig("key-a")
	cfg.DailyLimit = 5
	f := newFixture(t, cfg, prov)

	const callers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, rejected int
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, rw.ErrNoEligibleCredential):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, callers-5, rejected)
	assert.Equal(t, int64(5), prov.CallCount())
	assert.Equal(t, int64(5), f.count(t, "key-a"))
	assert.Empty(t, f.quarantined(t))
}

func TestRewrite_MinuteLimitHoldsUnderOverlappingCalls(t *testing.T) {
	prov := mock.New(mock.WithLatency(50 * time.Millisecond))
	cfg := testConfig("key-a", "key-b")
	cfg.MinuteLimit = 2
	f := newFixture(t, cfg, prov)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(4), prov.CallCount())
	keys := prov.Keys()
	perKey := map[string]int{}
	for _, k := range keys {
		perKey[k]++
	}
	assert.Equal(t, map[string]int{"key-a": 2, "key-b": 2}, perKey)
}

func TestRewrite_ReservationReleasedOnFailure(t *testing.T) {
	prov := mock.New(mock.WithKeyError("key-a", rw.ErrRateLimited))
	res := rw.NewReservations()
	f := newFixture(t, testConfig("key-a", "key-b"), prov, rw.WithReservations(res))

	_, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.NoError(t, err)
	assert.Zero(t, res.InFlight("key-a"))
	assert.Zero(t, res.InFlight("key-b"))

	st, err := f.r.Status(context.Background())
	require.NoError(t, err)
	for _, cs := range st.Credentials {
		assert.Zero(t, cs.InFlight)
	}
}

func TestRewriteError_RedactsCredential(t *testing.T) {
	prov := mock.New(mock.WithError(errors.New("boom")))
	cfg := testConfig("AIzaSyVERYSECRETKEY123456")
	cfg.MaxAttempts = 1
	f := newFixture(t, cfg, prov)

	_, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "AIzaSyVERYSECRETKEY123456")
	assert.Contains(t, err.Error(), "...123456")
}

func TestNew_Validation(t *testing.T) {
	_, err := rw.New(testConfig("key-a"), nil)
	assert.Error(t, err)

	_, err = rw.New(rw.Config{}, mock.New())
	assert.ErrorContains(t, err, "at least one credential")

	r, err := rw.New(rw.Config{Credentials: []rw.Credential{"key-a"}}, mock.New())
	require.NoError(t, err)
	assert.Equal(t, rw.DefaultDailyLimit, r.Config().DailyLimit)
	assert.Equal(t, []rw.Credential{"key-a"}, r.Credentials())
}

func TestStatus(t *testing.T) {
	prov := mock.New(mock.WithKeyError("key-a", rw.ErrRateLimited))
	cfg := testConfig("key-a", "key-b", "key-c")
	cfg.DailyLimit = 1
	cfg.MinuteLimit = 5
	f := newFixture(t, cfg, prov)

	_, err := f.r.Rewrite(context.Background(), rw.Request{Text: "hello"})
	require.NoError(t, err)

	st, err := f.r.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rw.Day("2025-03-14"), st.Day)
	assert.Equal(t, 1, st.DailyLimit)
	require.Len(t, st.Credentials, 3)

	a, b, c := st.Credentials[0], st.Credentials[1], st.Credentials[2]
	assert.True(t, a.Quarantined)
	assert.False(t, a.Eligible)
	assert.Equal(t, int64(1), b.Count)
	assert.Equal(t, 1, b.MinuteCount)
	assert.False(t, b.Eligible, "daily limit reached")
	assert.True(t, c.Eligible)
}
