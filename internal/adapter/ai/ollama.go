package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/modelarena/llm-evaluator/internal/adapter/ai/tokencount"
	"github.com/modelarena/llm-evaluator/internal/adapter/observability"
	"github.com/modelarena/llm-evaluator/internal/domain"
)

// OllamaProvider calls a local Ollama server. No API key is involved.
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaProvider constructs a provider for the Ollama base URL.
// Local inference can be slow, hence the long timeout.
func NewOllamaProvider(baseURL string) *OllamaProvider {
	return &OllamaProvider{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   300 * time.Second,
			Transport: newProviderTransport("Ollama"),
		},
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Message         openAIMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// Generate runs one non-streaming chat call.
func (p *OllamaProvider) Generate(ctx domain.Context, prompt string, cfg domain.InferenceConfig) (res domain.InferenceResult, err error) {
	defer func() { observability.RecordProviderRequest(FamilyOllama, err) }()

	body, err := json.Marshal(ollamaChatRequest{
		Model:    cfg.Model,
		Messages: []openAIMessage{{Role: "user", Content: prompt}},
		Stream:   false,
	})
	if err != nil {
		return domain.InferenceResult{}, fmt.Errorf("op=ollama.Generate: %w", err)
	}

	start := time.Now()
	var out ollamaChatResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if retriableStatus(resp.StatusCode) {
			return fmt.Errorf("%w: status %d", domain.ErrUpstream, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("%w: status %d: %s", domain.ErrUpstream, resp.StatusCode, snippet))
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	}
	if err := backoff.Retry(operation, retryBackoff(ctx)); err != nil {
		return domain.InferenceResult{}, fmt.Errorf("op=ollama.Generate: %w", err)
	}

	res = domain.InferenceResult{
		Response:  out.Message.Content,
		Model:     cfg.Model,
		LatencyMS: float64(time.Since(start)) / float64(time.Millisecond),
	}
	if out.PromptEvalCount > 0 || out.EvalCount > 0 {
		res.PromptTokens = domain.IntPtr(out.PromptEvalCount)
		res.CompletionTokens = domain.IntPtr(out.EvalCount)
		res.TotalTokens = domain.IntPtr(out.PromptEvalCount + out.EvalCount)
	} else {
		fillTokenEstimate(&res, prompt)
	}
	return res, nil
}

// fillTokenEstimate supplies tiktoken-estimated counts when the
// provider did not report usage.
func fillTokenEstimate(res *domain.InferenceResult, prompt string) {
	promptTokens, err := tokencount.DefaultCounter.CountTokens(prompt, res.Model)
	if err != nil {
		return
	}
	completionTokens, err := tokencount.DefaultCounter.CountTokens(res.Response, res.Model)
	if err != nil {
		return
	}
	res.PromptTokens = domain.IntPtr(promptTokens)
	res.CompletionTokens = domain.IntPtr(completionTokens)
	res.TotalTokens = domain.IntPtr(promptTokens + completionTokens)
}
