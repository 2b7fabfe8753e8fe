package rewriter

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Rewriter rewrites text through a pool of rate-limited credentials.
type Rewriter struct {
	cfg      Config
	pool     []Credential
	provider Provider
	store    StateStore
	window   *MinuteWindow
	reserved *Reservations
	selector *Selector
	picker   Picker
	models   Picker
	meter    Meter
	waiter   Waiter
	clock    Clock
	loc      *time.Location
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithStateStore sets the durable ledger and quarantine store.
func WithStateStore(s StateStore) Option {
	return func(r *Rewriter) { r.store = s }
}

// WithMinuteWindow sets the per-minute window, allowing several Rewriters
// in one process to share it.
func WithMinuteWindow(w *MinuteWindow) Option {
	return func(r *Rewriter) { r.window = w }
}

// WithReservations sets the in-flight reservation table, allowing several
// Rewriters in one process to share it. Share it together with the store
// and the minute window.
func WithReservations(res *Reservations) Option {
	return func(r *Rewriter) { r.reserved = res }
}

// WithPicker sets the credential selection strategy.
func WithPicker(p Picker) Option {
	return func(r *Rewriter) { r.picker = p }
}

// WithModelPicker sets the model selection strategy. It must not be the
// same stateful instance as the credential picker.
func WithModelPicker(p Picker) Option {
	return func(r *Rewriter) { r.models = p }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(r *Rewriter) { r.meter = m }
}

// WithWaiter sets the backoff suspension point.
func WithWaiter(w Waiter) Option {
	return func(r *Rewriter) { r.waiter = w }
}

// WithClock sets the clock used for day keys and the minute window.
func WithClock(c Clock) Option {
	return func(r *Rewriter) { r.clock = c }
}

// New creates a Rewriter with the given config and provider.
// Default components (MemoryStore, random pickers, TimerWaiter, no-op meter,
// system clock) are used unless overridden via options.
func New(cfg Config, provider Provider, opts ...Option) (*Rewriter, error) {
	if provider == nil {
		return nil, fmt.Errorf("rewriter: a provider is required")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	r := &Rewriter{
		cfg:      cfg,
		pool:     append([]Credential(nil), cfg.Credentials...),
		provider: provider,
		loc:      loc,
	}

	for _, opt := range opts {
		opt(r)
	}

	// Apply defaults after options.
	if r.store == nil {
		r.store = NewMemoryStore()
	}
	if r.window == nil {
		r.window = NewMinuteWindow()
	}
	if r.reserved == nil {
		r.reserved = NewReservations()
	}
	if r.picker == nil {
		r.picker = randomPicker{}
	}
	if r.models == nil {
		r.models = randomPicker{}
	}
	if r.meter == nil {
		r.meter = noopMeter{}
	}
	if r.waiter == nil {
		r.waiter = TimerWaiter{}
	}
	if r.clock == nil {
		r.clock = systemClock{}
	}

	r.selector = NewSelector(r.store, r.store, r.window, r.reserved)
	return r, nil
}

// Credentials returns a copy of the credential pool.
func (r *Rewriter) Credentials() []Credential {
	return append([]Credential(nil), r.pool...)
}

// Config returns the effective configuration.
func (r *Rewriter) Config() Config { return r.cfg }

// Today returns the current day key.
func (r *Rewriter) Today() Day {
	return DayOf(r.clock.Now(), r.loc)
}

// Rewrite rewrites req.Text in req.Style, translating to req.Language when it
// is not English. It returns ErrNoEligibleCredential when the pool is drained,
// ErrExhaustedRetries when every attempt failed and ErrPersistence when the
// shared state could not be read or written.
func (r *Rewriter) Rewrite(ctx context.Context, req Request) (Result, error) {
	run := &rewriteRun{
		r:           r,
		req:         req,
		prompt:      BuildPrompt(req.Text, req.Style, req.Language),
		maxAttempts: req.MaxAttempts,
		backoff:     req.Backoff,
		state:       StateSelecting,
		attempt:     1,
	}
	if run.maxAttempts <= 0 {
		run.maxAttempts = r.cfg.MaxAttempts
	}
	if run.backoff <= 0 {
		run.backoff = r.cfg.Backoff
	}
	run.estimated = EstimateTokens(run.prompt)

	for !run.state.Terminal() {
		switch run.state {
		case StateSelecting:
			run.selecting(ctx)
		case StateCalling:
			run.calling(ctx)
		case StateBackoff:
			run.waiting(ctx)
		}
	}

	if run.state == StateFailed {
		return Result{}, run.err
	}
	return run.result, nil
}

// rewriteRun holds the state machine of one Rewrite call.
type rewriteRun struct {
	r           *Rewriter
	req         Request
	prompt      string
	estimated   int64
	maxAttempts int
	backoff     time.Duration

	state       State
	attempt     int
	eligible    int
	selection   Selection
	credential  Credential
	model       string
	quarantined int
	lastErr     error

	result Result
	err    error
}

func (run *rewriteRun) transition(to State) {
	run.r.meter.OnTransition(Transition{From: run.state, To: to, Attempt: run.attempt})
	run.state = to
}

func (run *rewriteRun) fail(err error) {
	run.err = err
	run.transition(StateFailed)
}

func (run *rewriteRun) terminalError(sentinel error, attempts int) error {
	e := &RewriteError{
		Err:         sentinel,
		LastErr:     run.lastErr,
		Model:       run.model,
		Attempts:    attempts,
		Quarantined: run.quarantined,
	}
	if run.credential != "" {
		e.Credential = run.credential.Redacted()
	}
	return e
}

func (run *rewriteRun) selecting(ctx context.Context) {
	r := run.r
	now := r.clock.Now()
	day := DayOf(now, r.loc)

	sel, err := r.selector.Reserve(ctx, day, now, r.pool, r.cfg.DailyLimit, r.cfg.MinuteLimit, r.picker, r.models, r.cfg.Models)
	if errors.Is(err, ErrNoEligibleCredential) {
		// The attempt was never made.
		run.fail(run.terminalError(ErrNoEligibleCredential, run.attempt-1))
		return
	}
	if err != nil {
		run.fail(err)
		return
	}

	run.selection = sel
	run.eligible = sel.Eligible
	run.credential = sel.Credential
	run.model = sel.Model
	run.transition(StateCalling)
}

func (run *rewriteRun) calling(ctx context.Context) {
	r := run.r
	// Released once the outcome is in the ledger, window or quarantine set.
	defer r.selector.Release(run.selection)

	id := uuid.New().String()

	r.meter.OnAttempt(AttemptEvent{
		ID:              id,
		Attempt:         run.attempt,
		MaxAttempts:     run.maxAttempts,
		Provider:        r.provider.Name(),
		Credential:      run.credential,
		Model:           run.model,
		Eligible:        run.eligible,
		PoolSize:        len(r.pool),
		EstimatedTokens: run.estimated,
		Language:        run.req.Language,
		Style:           run.req.Style,
	})

	at := r.clock.Now()
	start := time.Now()
	resp, err := r.provider.Generate(ctx, ProviderRequest{
		Auth:        Auth{APIKey: string(run.credential)},
		Model:       run.model,
		Prompt:      run.prompt,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxOutputTokens,
	})
	duration := time.Since(start)

	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = ErrEmptyResponse
	}

	attempt := CallAttempt{
		ID:         id,
		Attempt:    run.attempt,
		At:         at,
		Provider:   r.provider.Name(),
		Credential: run.credential,
		Model:      run.model,
		Duration:   duration,
		Usage:      resp.Usage,
	}

	if err != nil {
		run.failed(ctx, attempt, err)
		return
	}

	// Usage of a call that already succeeded must be recorded even if the
	// caller has gone away.
	now := r.clock.Now()
	if err := r.store.RecordSuccess(context.WithoutCancel(ctx), DayOf(now, r.loc), run.credential); err != nil {
		attempt.Outcome = OutcomeFailure
		attempt.Err = persistenceError("record usage", err)
		r.meter.OnResult(attempt)
		run.fail(attempt.Err)
		return
	}
	r.window.RecordCall(run.credential, now)

	attempt.Outcome = OutcomeSuccess
	r.meter.OnResult(attempt)

	model := resp.Model
	if model == "" {
		model = run.model
	}
	run.result = Result{
		Text:  strings.TrimSpace(resp.Text),
		Usage: resp.Usage,
		Routing: RoutingInfo{
			Provider:   r.provider.Name(),
			Credential: run.credential.Redacted(),
			Model:      model,
			Attempts:   run.attempt,
			Eligible:   run.eligible,
			PoolSize:   len(r.pool),
		},
	}
	run.transition(StateSucceeded)
}

// failed handles a failed remote call: quarantine, then backoff or give up.
func (run *rewriteRun) failed(ctx context.Context, attempt CallAttempt, callErr error) {
	r := run.r
	attempt.Outcome = OutcomeFailure
	attempt.Err = fmt.Errorf("%w: %w", ErrRemoteCallFailed, callErr)

	// Caller cancellation says nothing about the credential.
	if ctxErr := ctx.Err(); ctxErr != nil {
		r.meter.OnResult(attempt)
		run.fail(fmt.Errorf("rewriter: rewrite interrupted on attempt %d: %w", run.attempt, ctxErr))
		return
	}

	if err := r.store.Quarantine(ctx, DayOf(r.clock.Now(), r.loc), run.credential); err != nil {
		r.meter.OnResult(attempt)
		run.fail(persistenceError("record quarantine", err))
		return
	}
	attempt.Quarantined = true
	run.quarantined++
	run.lastErr = attempt.Err
	r.meter.OnResult(attempt)

	if run.attempt >= run.maxAttempts {
		run.fail(run.terminalError(ErrExhaustedRetries, run.attempt))
		return
	}
	run.transition(StateBackoff)
}

func (run *rewriteRun) waiting(ctx context.Context) {
	if err := run.r.waiter.Wait(ctx, run.backoff); err != nil {
		run.fail(fmt.Errorf("rewriter: backoff interrupted after attempt %d: %w", run.attempt, err))
		return
	}
	run.attempt++
	run.transition(StateSelecting)
}

// randomPicker is an inline uniform picker to avoid import cycles.
type randomPicker struct{}

func (randomPicker) Pick(n int) int { return rand.IntN(n) }

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (noopMeter) OnAttempt(AttemptEvent)  {}
func (noopMeter) OnResult(CallAttempt)    {}
func (noopMeter) OnTransition(Transition) {}
