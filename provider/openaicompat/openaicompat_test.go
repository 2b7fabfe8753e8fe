package openaicompat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/rewriter"
)

func newMockServer(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("test", srv.URL+"/")
}

func TestGenerate_Success(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody apiRequest
	p := newMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "c-1", "model": "gemini-2.5-flash",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "bonjour"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`)
	})

	maxTokens := 64
	resp, err := p.Generate(context.Background(), rewriter.ProviderRequest{
		Auth:      rewriter.Auth{APIKey: "secret"},
		Model:     "gemini-2.5-flash",
		Prompt:    "translate",
		MaxTokens: &maxTokens,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "gemini-2.5-flash", gotBody.Model)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, apiMessage{Role: "user", Content: "translate"}, gotBody.Messages[0])
	require.NotNil(t, gotBody.MaxTokens)
	assert.Equal(t, 64, *gotBody.MaxTokens)
	assert.Nil(t, gotBody.Temperature)

	assert.Equal(t, "bonjour", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, int64(7), resp.Usage.TotalTokens)
}

func TestGenerate_NoChoices(t *testing.T) {
	p := newMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices": []}`)
	})
	_, err := p.Generate(context.Background(), rewriter.ProviderRequest{Model: "m", Prompt: "p"})
	assert.ErrorIs(t, err, rewriter.ErrEmptyResponse)
}

func TestGenerate_HTTPErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, rewriter.ErrRateLimited},
		{http.StatusUnauthorized, rewriter.ErrAuthFailed},
		{http.StatusBadRequest, rewriter.ErrInvalidRequest},
		{http.StatusBadGateway, rewriter.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := newMockServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := p.Generate(context.Background(), rewriter.ProviderRequest{Model: "m", Prompt: "p"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, "openai", NewOpenAI().Name())
	assert.Equal(t, "gemini-openai", NewGeminiCompat().Name())
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/openai", NewGeminiCompat().baseURL)
}
