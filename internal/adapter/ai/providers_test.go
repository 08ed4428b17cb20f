package ai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelarena/llm-evaluator/internal/adapter/ai"
	"github.com/modelarena/llm-evaluator/internal/domain"
)

func TestOpenAIProvider_Generate(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req["model"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "4"}},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 1, "total_tokens": 13},
		})
	}))
	defer srv.Close()

	p := ai.NewOpenAIProvider(srv.URL, "sk-test")
	res, err := p.Generate(context.Background(), "What is 2+2?", domain.InferenceConfig{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, "4", res.Response)
	assert.Equal(t, "gpt-4o-mini", res.Model)
	assert.GreaterOrEqual(t, res.LatencyMS, 0.0)
	require.NotNil(t, res.TotalTokens)
	assert.Equal(t, 13, *res.TotalTokens)
}

func TestOpenAIProvider_RetriesThrottling(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	p := ai.NewOpenAIProvider(srv.URL, "sk-test")
	res, err := p.Generate(context.Background(), "hi", domain.InferenceConfig{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Response)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
	// Usage was absent, so counts are estimated.
	require.NotNil(t, res.TotalTokens)
	assert.Positive(t, *res.TotalTokens)
}

func TestOpenAIProvider_AuthFailureNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := ai.NewOpenAIProvider(srv.URL, "sk-bad")
	_, err := p.Generate(context.Background(), "hi", domain.InferenceConfig{Model: "gpt-4o-mini"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGoogleProvider_Generate(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.URL.Query().Get("key"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "The answer "}, {"text": "is 4."}}}},
			},
			"usageMetadata": map[string]int{"promptTokenCount": 9, "candidatesTokenCount": 5, "totalTokenCount": 14},
		})
	}))
	defer srv.Close()

	p := ai.NewGoogleProvider(srv.URL, "g-key")
	res, err := p.Generate(context.Background(), "What is 2+2?", domain.InferenceConfig{Model: "gemini-2.0-flash"})
	require.NoError(t, err)
	assert.Equal(t, "The answer is 4.", res.Response)
	require.NotNil(t, res.TotalTokens)
	assert.Equal(t, 14, *res.TotalTokens)
}

func TestOllamaProvider_GenerateEstimatesTokens(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, false, req["stream"])

		// Token counts deliberately omitted.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "4"},
		})
	}))
	defer srv.Close()

	p := ai.NewOllamaProvider(srv.URL)
	res, err := p.Generate(context.Background(), "What is 2+2?", domain.InferenceConfig{Model: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, "4", res.Response)
	require.NotNil(t, res.PromptTokens)
	require.NotNil(t, res.TotalTokens)
	assert.Positive(t, *res.PromptTokens)
	assert.Equal(t, *res.PromptTokens+*res.CompletionTokens, *res.TotalTokens)
}
