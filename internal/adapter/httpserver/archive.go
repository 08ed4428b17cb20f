package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/modelarena/llm-evaluator/internal/config"
	"github.com/modelarena/llm-evaluator/internal/domain"
)

// ArchiveServer serves the /v1/history API over the history repository.
type ArchiveServer struct {
	Cfg     config.Config
	History domain.ArchiveGateway
}

// NewArchiveServer constructs the archive HTTP server.
func NewArchiveServer(cfg config.Config, history domain.ArchiveGateway) *ArchiveServer {
	return &ArchiveServer{Cfg: cfg, History: history}
}

// CreateHistoryHandler archives a terminal record. Duplicate request
// ids answer 409 so redelivered writes stay idempotent.
func (s *ArchiveServer) CreateHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var row domain.HistoryRow
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if row.RequestID == "" {
			writeError(w, r, fmt.Errorf("%w: request_id required", domain.ErrInvalidArgument), map[string]string{"field": "request_id"})
			return
		}
		if row.Status != domain.HistoryStatusCompleted && row.Status != domain.HistoryStatusFailed {
			writeError(w, r, fmt.Errorf("%w: status must be terminal", domain.ErrInvalidArgument), map[string]string{"status": row.Status})
			return
		}
		created, err := s.History.CreateHistory(r.Context(), row)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// GetHistoryHandler returns one archived record by request id.
func (s *ArchiveServer) GetHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "request_id")
		if requestID == "" {
			writeError(w, r, fmt.Errorf("%w: request_id missing", domain.ErrInvalidArgument), nil)
			return
		}
		row, err := s.History.GetHistory(r.Context(), requestID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, row)
	}
}

// ListHistoryHandler returns archived records newest first, with
// optional status filter and pagination.
func (s *ArchiveServer) ListHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := queryInt(q.Get("limit"), 100)
		offset := queryInt(q.Get("offset"), 0)
		status := q.Get("status")
		if status != "" && status != domain.HistoryStatusCompleted && status != domain.HistoryStatusFailed {
			writeError(w, r, fmt.Errorf("%w: unknown status filter", domain.ErrInvalidArgument), map[string]string{"status": status})
			return
		}
		rows, err := s.History.ListHistory(r.Context(), limit, offset, status)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if rows == nil {
			rows = []domain.HistoryRow{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rows, "count": len(rows)})
	}
}

// ReadyzHandler probes the backing Postgres pool.
func (s *ArchiveServer) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if !s.History.IsHealthy(ctx) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
