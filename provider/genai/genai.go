// Package genai adapts the official Google Gen AI SDK to rewriter.Provider.
// One SDK client is kept per API key since the key is bound at construction.
package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/ineyio/rewriter"
)

// Provider calls Gemini through google.golang.org/genai.
type Provider struct {
	httpClient *http.Client
	baseURL    string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

var _ rewriter.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets the HTTP client handed to the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithBaseURL overrides the Gemini API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// New creates a new SDK-backed provider.
func New(opts ...Option) *Provider {
	p := &Provider{clients: make(map[string]*genai.Client)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[apiKey]; ok {
		return c, nil
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}

	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create genai client: %v", rewriter.ErrInvalidRequest, err)
	}
	p.clients[apiKey] = c
	return c, nil
}

func (p *Provider) Generate(ctx context.Context, req rewriter.ProviderRequest) (rewriter.ProviderResponse, error) {
	if req.Model == "" {
		return rewriter.ProviderResponse{}, fmt.Errorf("%w: model is required", rewriter.ErrInvalidRequest)
	}

	client, err := p.client(ctx, req.Auth.APIKey)
	if err != nil {
		return rewriter.ProviderResponse{}, err
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), buildConfig(req))
	if err != nil {
		return rewriter.ProviderResponse{}, mapError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return rewriter.ProviderResponse{}, fmt.Errorf("%w: no candidates in gemini response", rewriter.ErrEmptyResponse)
	}

	out := rewriter.ProviderResponse{
		Text:         resp.Text(),
		FinishReason: strings.ToLower(string(resp.Candidates[0].FinishReason)),
		Model:        resp.ModelVersion,
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = rewriter.Usage{
			PromptTokens:     int64(u.PromptTokenCount),
			CompletionTokens: int64(u.CandidatesTokenCount),
			TotalTokens:      int64(u.TotalTokenCount),
		}
	}
	return out, nil
}

func buildConfig(req rewriter.ProviderRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*req.MaxTokens)
	}
	return cfg
}

// mapError converts SDK errors into rewriter sentinels.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var code int
	var msg string
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code, msg = apiErr.Code, apiErr.Message
	case errors.As(err, &apiErrPtr):
		code, msg = apiErrPtr.Code, apiErrPtr.Message
	default:
		return fmt.Errorf("%w: %v", rewriter.ErrProviderUnavailable, err)
	}

	switch code {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", rewriter.ErrRateLimited, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", rewriter.ErrAuthFailed, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", rewriter.ErrInvalidRequest, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", rewriter.ErrProviderUnavailable, code, msg)
	}
}
