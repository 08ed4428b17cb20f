// Package judge provides the HTTP client for the judge inference
// service, which scores a model response against its original prompt.
package judge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/modelarena/llm-evaluator/internal/adapter/observability"
	"github.com/modelarena/llm-evaluator/internal/domain"
)

// Client implements domain.JudgeGateway over the judge service API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client against the judge service base URL.
// The timeout is generous because judging runs a full model inference.
func NewClient(baseURL string) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("Judge %s %s", r.Method, r.URL.Path)
		}),
	)
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   120 * time.Second,
			Transport: transport,
		},
	}
}

type judgeRequest struct {
	OriginalPrompt string `json:"original_prompt"`
	ModelResponse  string `json:"model_response"`
	Model          string `json:"model"`
}

// Judge scores modelResponse against originalPrompt using the named
// judge model (name:version).
func (c *Client) Judge(ctx domain.Context, originalPrompt, modelResponse, model string) (domain.JudgeResult, error) {
	body, err := json.Marshal(judgeRequest{
		OriginalPrompt: originalPrompt,
		ModelResponse:  modelResponse,
		Model:          model,
	})
	if err != nil {
		return domain.JudgeResult{}, fmt.Errorf("op=judge.Judge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/judge", bytes.NewReader(body))
	if err != nil {
		return domain.JudgeResult{}, fmt.Errorf("op=judge.Judge: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.JudgeResult{}, fmt.Errorf("op=judge.Judge: %w: %w", domain.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return domain.JudgeResult{}, fmt.Errorf("op=judge.Judge: %w: status %d", domain.ErrInvalidArgument, resp.StatusCode)
	case resp.StatusCode >= 500:
		return domain.JudgeResult{}, fmt.Errorf("op=judge.Judge: %w: status %d", domain.ErrUpstream, resp.StatusCode)
	default:
		return domain.JudgeResult{}, fmt.Errorf("op=judge.Judge: unexpected status %d", resp.StatusCode)
	}

	var result domain.JudgeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.JudgeResult{}, fmt.Errorf("op=judge.Judge: decode response: %w", err)
	}

	observability.JudgeScoreHistogram.Observe(result.Score)
	return result, nil
}

// IsHealthy reports whether the judge service answers its health
// endpoint.
func (c *Client) IsHealthy(ctx domain.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
