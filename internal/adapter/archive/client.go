// Package archive provides the HTTP client workers use to talk to the
// archive service. It implements domain.ArchiveGateway over the
// service's /v1/history API.
package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/modelarena/llm-evaluator/internal/domain"
)

// Client calls the archive service over HTTP with tracing propagation.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client against the archive service base URL.
func NewClient(baseURL string) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("Archive %s %s", r.Method, r.URL.Path)
		}),
	)
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// CreateHistory archives the terminal record for a request. A request
// already archived returns domain.ErrConflict.
func (c *Client) CreateHistory(ctx domain.Context, row domain.HistoryRow) (domain.HistoryRow, error) {
	body, err := json.Marshal(row)
	if err != nil {
		return domain.HistoryRow{}, fmt.Errorf("op=archive.CreateHistory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/history", bytes.NewReader(body))
	if err != nil {
		return domain.HistoryRow{}, fmt.Errorf("op=archive.CreateHistory: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var created domain.HistoryRow
	if err := c.do(req, http.StatusCreated, &created); err != nil {
		return domain.HistoryRow{}, fmt.Errorf("op=archive.CreateHistory: %w", err)
	}
	return created, nil
}

// GetHistory fetches the archived record for a request.
func (c *Client) GetHistory(ctx domain.Context, requestID string) (domain.HistoryRow, error) {
	u := c.baseURL + "/v1/history/" + url.PathEscape(requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.HistoryRow{}, fmt.Errorf("op=archive.GetHistory: %w", err)
	}

	var row domain.HistoryRow
	if err := c.do(req, http.StatusOK, &row); err != nil {
		return domain.HistoryRow{}, fmt.Errorf("op=archive.GetHistory: %w", err)
	}
	return row, nil
}

// ListHistory fetches archived records newest first.
func (c *Client) ListHistory(ctx domain.Context, limit, offset int, status string) ([]domain.HistoryRow, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if status != "" {
		q.Set("status", status)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/history?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("op=archive.ListHistory: %w", err)
	}

	var out struct {
		Items []domain.HistoryRow `json:"items"`
	}
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("op=archive.ListHistory: %w", err)
	}
	return out.Items, nil
}

// IsHealthy reports whether the service answers its health endpoint.
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

func (c *Client) do(req *http.Request, wantStatus int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != wantStatus {
		return statusError(resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(code int) error {
	switch {
	case code == http.StatusNotFound:
		return domain.ErrNotFound
	case code == http.StatusConflict:
		return domain.ErrConflict
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: status %d", domain.ErrInvalidArgument, code)
	case code >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrUpstream, code)
	}
	return fmt.Errorf("unexpected status %d", code)
}
