package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/modelarena/llm-evaluator/internal/config"
	"github.com/modelarena/llm-evaluator/internal/domain"
	"github.com/modelarena/llm-evaluator/internal/usecase"
)

// Server aggregates the gateway handler dependencies.
type Server struct {
	Cfg         config.Config
	Submissions usecase.SubmissionService
	RedisCheck  func(ctx context.Context) error
	BrokerCheck func(ctx context.Context) error
}

// NewServer constructs the gateway HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, submissions usecase.SubmissionService, redisCheck, brokerCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Submissions: submissions, RedisCheck: redisCheck, BrokerCheck: brokerCheck}
}

// metadataView is the ProcessedRequest as returned by GET /metadata.
// The submitted api_key is deliberately absent: the credential travels
// only inside broker payloads, never back out of the API.
type metadataView struct {
	RequestID string `json:"request_id"`
	Prompt    string `json:"prompt"`
	Stage     string `json:"stage"`

	TargetModel domain.ModelRef      `json:"target_model"`
	JudgeModel  domain.JudgeModelRef `json:"judge_model"`

	InferenceResult *domain.InferenceResult `json:"inference_result,omitempty"`
	JudgeResult     *domain.JudgeResult     `json:"judge_result,omitempty"`
	ErrorMessage    string                  `json:"error_message,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

func newMetadataView(p domain.ProcessedRequest) metadataView {
	return metadataView{
		RequestID:       p.RequestID,
		Prompt:          p.Prompt(),
		Stage:           string(p.Stage),
		TargetModel:     p.GatewayRequest.TargetModel,
		JudgeModel:      p.GatewayRequest.JudgeModel,
		InferenceResult: p.InferenceResult,
		JudgeResult:     p.JudgeResult,
		ErrorMessage:    p.ErrorMessage,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// SubmitHandler accepts a gateway submission and enqueues the pipeline.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
			writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]any{"accept": a}}})
			return
		}
		// Cap body size to prevent abuse
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req domain.GatewayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		requestID, err := s.Submissions.Submit(r.Context(), req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"request_id": requestID, "status": "Accepted"})
	}
}

// MetadataHandler returns the live state record for a request.
func (s *Server) MetadataHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "request_id")
		if requestID == "" {
			writeError(w, r, fmt.Errorf("%w: request_id missing", domain.ErrInvalidArgument), nil)
			return
		}
		rec, err := s.Submissions.GetMetadata(r.Context(), requestID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, newMetadataView(rec))
	}
}

// HealthHandler reports process liveness.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// ReadyzHandler probes the state store and the broker.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		if s.BrokerCheck != nil {
			if err := s.BrokerCheck(ctx); err != nil {
				checks = append(checks, check{Name: "broker", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "broker", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
