package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/modelarena/llm-evaluator/internal/adapter/observability"
	"github.com/modelarena/llm-evaluator/internal/domain"
)

// GoogleProvider calls the Gemini generateContent API.
type GoogleProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewGoogleProvider constructs a provider bound to one API key.
func NewGoogleProvider(baseURL, apiKey string) *GoogleProvider {
	return &GoogleProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: newProviderTransport("Google"),
		},
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Generate runs one generateContent call and reports latency and token
// usage.
func (p *GoogleProvider) Generate(ctx domain.Context, prompt string, cfg domain.InferenceConfig) (res domain.InferenceResult, err error) {
	defer func() { observability.RecordProviderRequest(FamilyGoogle, err) }()

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return domain.InferenceResult{}, fmt.Errorf("op=google.Generate: %w", err)
	}

	// The key travels as a query parameter per the Gemini API; it must
	// never be logged, so URLs from this client stay out of log fields.
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.baseURL, url.PathEscape(cfg.Model), url.QueryEscape(p.apiKey))

	start := time.Now()
	var out geminiResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
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
		return domain.InferenceResult{}, fmt.Errorf("op=google.Generate: %w", err)
	}

	if len(out.Candidates) == 0 {
		return domain.InferenceResult{}, fmt.Errorf("op=google.Generate: %w: response has no candidates", domain.ErrUpstream)
	}

	var sb strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	res = domain.InferenceResult{
		Response:  sb.String(),
		Model:     cfg.Model,
		LatencyMS: float64(time.Since(start)) / float64(time.Millisecond),
	}
	if u := out.UsageMetadata; u != nil {
		res.PromptTokens = domain.IntPtr(u.PromptTokenCount)
		res.CompletionTokens = domain.IntPtr(u.CandidatesTokenCount)
		res.TotalTokens = domain.IntPtr(u.TotalTokenCount)
	} else {
		fillTokenEstimate(&res, prompt)
	}
	return res, nil
}
