package httpserver_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/modelarena/llm-evaluator/internal/adapter/httpserver"
	"github.com/modelarena/llm-evaluator/internal/config"
	"github.com/modelarena/llm-evaluator/internal/domain"
	"github.com/modelarena/llm-evaluator/internal/domain/mocks"
	"github.com/modelarena/llm-evaluator/internal/usecase"
)

const testRequestID = "11111111-2222-3333-4444-555555555555"

func newGatewayRouter(state *mocks.MockStateRepository, queue *mocks.MockPublisher, redisCheck, brokerCheck func(context.Context) error) http.Handler {
	srv := httpserver.NewServer(config.Config{}, usecase.NewSubmissionService(state, queue), redisCheck, brokerCheck)
	r := chi.NewRouter()
	r.Post("/submit", srv.SubmitHandler())
	r.Get("/metadata/{request_id}", srv.MetadataHandler())
	r.Get("/health", httpserver.HealthHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	return r
}

func submitBody() string {
	return `{
		"prompt": "What is 2+2?",
		"target_model": {"name": "ChatGPT"},
		"judge_model": {"name": "qwen2.5", "version": "latest"},
		"api_key": "sk-test"
	}`
}

func TestSubmitHandler_Accepted(t *testing.T) {
	state := &mocks.MockStateRepository{}
	queue := &mocks.MockPublisher{}
	state.On("Create", mock.Anything, mock.Anything).Return(domain.ProcessedRequest{}, nil)
	queue.On("Publish", mock.Anything, domain.TopicInference, mock.Anything).Return(nil)

	router := newGatewayRouter(state, queue, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(submitBody()))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out["request_id"])
	assert.Equal(t, "Accepted", out["status"])
	state.AssertExpectations(t)
	queue.AssertExpectations(t)
}

func TestSubmitHandler_InvalidJSON(t *testing.T) {
	router := newGatewayRouter(&mocks.MockStateRepository{}, &mocks.MockPublisher{}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_ARGUMENT")
}

func TestSubmitHandler_MissingPrompt(t *testing.T) {
	router := newGatewayRouter(&mocks.MockStateRepository{}, &mocks.MockPublisher{}, nil, nil)
	body := `{"prompt":"","target_model":{"name":"ChatGPT"},"judge_model":{"name":"qwen2.5","version":"latest"},"api_key":"sk-test"}`
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitHandler_NotAcceptable(t *testing.T) {
	router := newGatewayRouter(&mocks.MockStateRepository{}, &mocks.MockPublisher{}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(submitBody()))
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestSubmitHandler_QueueUnavailable(t *testing.T) {
	state := &mocks.MockStateRepository{}
	queue := &mocks.MockPublisher{}
	state.On("Create", mock.Anything, mock.Anything).Return(domain.ProcessedRequest{}, nil)
	queue.On("Publish", mock.Anything, domain.TopicInference, mock.Anything).
		Return(fmt.Errorf("%w: broker down", domain.ErrUnavailable))

	router := newGatewayRouter(state, queue, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(submitBody()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAVAILABLE")
}

func TestMetadataHandler_RedactsAPIKey(t *testing.T) {
	state := &mocks.MockStateRepository{}
	rec0 := domain.NewProcessedRequest(testRequestID, domain.GatewayRequest{
		Prompt:      "What is 2+2?",
		TargetModel: domain.ModelRef{Name: "ChatGPT"},
		JudgeModel:  domain.JudgeModelRef{Name: "qwen2.5", Version: "latest"},
		APIKey:      domain.Secret("sk-super-secret"),
	})
	state.On("Get", mock.Anything, testRequestID).Return(rec0, nil)

	router := newGatewayRouter(state, &mocks.MockPublisher{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/metadata/"+testRequestID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "sk-super-secret")
	assert.NotContains(t, body, "api_key")

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, testRequestID, out["request_id"])
	assert.Equal(t, string(domain.StageGateway), out["stage"])
	assert.Equal(t, "What is 2+2?", out["prompt"])
}

func TestMetadataHandler_NotFound(t *testing.T) {
	state := &mocks.MockStateRepository{}
	state.On("Get", mock.Anything, testRequestID).
		Return(domain.ProcessedRequest{}, fmt.Errorf("op=state.Get: %w", domain.ErrNotFound))

	router := newGatewayRouter(state, &mocks.MockPublisher{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/metadata/"+testRequestID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestMetadataHandler_MalformedID(t *testing.T) {
	router := newGatewayRouter(&mocks.MockStateRepository{}, &mocks.MockPublisher{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/metadata/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	router := newGatewayRouter(&mocks.MockStateRepository{}, &mocks.MockPublisher{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReadyzHandler_AllChecksPass(t *testing.T) {
	ok := func(context.Context) error { return nil }
	router := newGatewayRouter(&mocks.MockStateRepository{}, &mocks.MockPublisher{}, ok, ok)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzHandler_FailingCheck(t *testing.T) {
	ok := func(context.Context) error { return nil }
	bad := func(context.Context) error { return fmt.Errorf("connection refused") }
	router := newGatewayRouter(&mocks.MockStateRepository{}, &mocks.MockPublisher{}, ok, bad)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
