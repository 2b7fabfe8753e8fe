package rewriter

import "context"

// Provider is the interface that remote text-generation adapters must implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "gemini", "openai").
	Name() string

	// Generate sends a single prompt and returns the generated text.
	// Any returned error counts as a failure of the credential used.
	Generate(ctx context.Context, req ProviderRequest) (ProviderResponse, error)
}

// Auth holds the credential used for one call.
type Auth struct {
	APIKey string `yaml:"api_key" json:"api_key"`
}

// ProviderRequest is the request sent to a provider adapter.
type ProviderRequest struct {
	Auth   Auth
	Model  string
	Prompt string

	Temperature *float64
	MaxTokens   *int
}

// ProviderResponse is the response from a provider adapter.
type ProviderResponse struct {
	Text         string
	FinishReason string
	Usage        Usage
	Model        string
}
