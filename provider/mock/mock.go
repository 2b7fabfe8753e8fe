package mock

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ineyio/rewriter"
)

// Provider is a mock text-generation provider for testing.
type Provider struct {
	name         string
	latency      time.Duration
	failAfter    int
	callCount    atomic.Int64
	staticErr    error
	failKeys     map[string]error
	usage        rewriter.Usage
	text         string
	responseFunc func(rewriter.ProviderRequest) (rewriter.ProviderResponse, error)

	mu    sync.Mutex
	calls []rewriter.ProviderRequest
}

var _ rewriter.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name: "mock",
		text: "Hello from mock provider",
		usage: rewriter.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
		failKeys: make(map[string]error),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithText sets the text returned on success.
func WithText(text string) Option {
	return func(p *Provider) { p.text = text }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithKeyError makes every call authenticated with apiKey return err.
func WithKeyError(apiKey string, err error) Option {
	return func(p *Provider) { p.failKeys[apiKey] = err }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(u rewriter.Usage) Option {
	return func(p *Provider) { p.usage = u }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(rewriter.ProviderRequest) (rewriter.ProviderResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Generate(ctx context.Context, req rewriter.ProviderRequest) (rewriter.ProviderResponse, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			p.record(req)
			return rewriter.ProviderResponse{}, ctx.Err()
		}
	}

	count := p.callCount.Add(1)
	p.record(req)

	if p.staticErr != nil {
		return rewriter.ProviderResponse{}, p.staticErr
	}

	if err, ok := p.failKeys[req.Auth.APIKey]; ok {
		return rewriter.ProviderResponse{}, err
	}

	if p.failAfter > 0 && int(count) > p.failAfter {
		return rewriter.ProviderResponse{}, rewriter.ErrProviderUnavailable
	}

	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	return rewriter.ProviderResponse{
		Text:         p.text,
		FinishReason: "stop",
		Usage:        p.usage,
		Model:        req.Model,
	}, nil
}

func (p *Provider) record(req rewriter.ProviderRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// Calls returns a copy of every request received.
func (p *Provider) Calls() []rewriter.ProviderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]rewriter.ProviderRequest(nil), p.calls...)
}

// Keys returns the API key of every request received, in order.
func (p *Provider) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.calls))
	for _, c := range p.calls {
		keys = append(keys, c.Auth.APIKey)
	}
	return keys
}

// Echo returns a response function that upper-cases the quoted text of the
// prompt, handy for asserting that the prompt reached the provider.
func Echo() func(rewriter.ProviderRequest) (rewriter.ProviderResponse, error) {
	return func(req rewriter.ProviderRequest) (rewriter.ProviderResponse, error) {
		text := req.Prompt
		if i := strings.Index(text, "Text: '"); i >= 0 {
			text = strings.TrimSuffix(strings.TrimSpace(text[i+len("Text: '"):]), "'")
		}
		return rewriter.ProviderResponse{Text: strings.ToUpper(text), Model: req.Model}, nil
	}
}
