package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/modelarena/llm-evaluator/internal/adapter/observability"
	"github.com/modelarena/llm-evaluator/internal/domain"
)

// OpenAIProvider calls the OpenAI chat completions API. It also covers
// any OpenAI-compatible endpoint reachable through the configured base
// URL.
type OpenAIProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAIProvider constructs a provider bound to one API key.
func NewOpenAIProvider(baseURL, apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: newProviderTransport("OpenAI"),
		},
	}
}

func newProviderTransport(name string) http.RoundTripper {
	return otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("%s %s %s", name, r.Method, r.URL.Path)
		}),
	)
}

// retryBackoff bounds provider retries: transient failures (429, 5xx,
// network) are retried with exponential backoff for up to a minute.
func retryBackoff(ctx context.Context) backoff.BackOffContext {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 10 * time.Second
	expo.MaxElapsedTime = time.Minute
	return backoff.WithContext(expo, ctx)
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate runs one chat completion and reports latency and token
// usage.
func (p *OpenAIProvider) Generate(ctx domain.Context, prompt string, cfg domain.InferenceConfig) (res domain.InferenceResult, err error) {
	defer func() { observability.RecordProviderRequest(FamilyOpenAI, err) }()

	body, err := json.Marshal(openAIChatRequest{
		Model:    cfg.Model,
		Messages: []openAIMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return domain.InferenceResult{}, fmt.Errorf("op=openai.Generate: %w", err)
	}

	start := time.Now()
	var out openAIChatResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
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
		return domain.InferenceResult{}, fmt.Errorf("op=openai.Generate: %w", err)
	}

	if len(out.Choices) == 0 {
		return domain.InferenceResult{}, fmt.Errorf("op=openai.Generate: %w: response has no choices", domain.ErrUpstream)
	}

	res = domain.InferenceResult{
		Response:  out.Choices[0].Message.Content,
		Model:     cfg.Model,
		LatencyMS: float64(time.Since(start)) / float64(time.Millisecond),
	}
	if u := out.Usage; u != nil {
		res.PromptTokens = domain.IntPtr(u.PromptTokens)
		res.CompletionTokens = domain.IntPtr(u.CompletionTokens)
		res.TotalTokens = domain.IntPtr(u.TotalTokens)
	} else {
		fillTokenEstimate(&res, prompt)
	}
	return res, nil
}

func retriableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
