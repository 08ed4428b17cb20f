// Package postgres provides the PostgreSQL archive adapter.
//
// It persists the flattened terminal record of each request in the
// request_history table, with request_id unique so at-least-once
// delivery upstream cannot produce duplicate rows.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/modelarena/llm-evaluator/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repo for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const uniqueViolation = "23505"

// HistoryRepo persists and loads archived requests using a minimal pgx pool.
type HistoryRepo struct{ Pool PgxPool }

// NewHistoryRepo constructs a HistoryRepo with the given pool.
func NewHistoryRepo(p PgxPool) *HistoryRepo { return &HistoryRepo{Pool: p} }

const historyColumns = `request_id, prompt, target_model, judge_model,
	inference_response, inference_latency_ms, inference_tokens,
	judge_score, judge_reasoning, judge_categories, judge_latency_ms,
	status, error_message, created_at, completed_at`

// CreateHistory inserts the terminal record for a request. A second
// insert for the same request_id returns domain.ErrConflict; the
// original row is never overwritten.
func (r *HistoryRepo) CreateHistory(ctx domain.Context, row domain.HistoryRow) (domain.HistoryRow, error) {
	tracer := otel.Tracer("repo.history")
	ctx, span := tracer.Start(ctx, "history.Create")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", row.RequestID))

	var categories []byte
	if row.JudgeCategories != nil {
		var err error
		categories, err = json.Marshal(row.JudgeCategories)
		if err != nil {
			return domain.HistoryRow{}, fmt.Errorf("op=history.create: %w", err)
		}
	}

	q := `INSERT INTO request_history (` + historyColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_, err := r.Pool.Exec(ctx, q,
		row.RequestID, row.Prompt, row.TargetModel, row.JudgeModel,
		row.InferenceResponse, row.InferenceLatencyMS, row.InferenceTokens,
		row.JudgeScore, row.JudgeReasoning, categories, row.JudgeLatencyMS,
		row.Status, row.ErrorMessage, row.CreatedAt, row.CompletedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.HistoryRow{}, fmt.Errorf("op=history.create: %w: request %s already archived", domain.ErrConflict, row.RequestID)
		}
		return domain.HistoryRow{}, fmt.Errorf("op=history.create: %w", err)
	}
	return row, nil
}

// GetHistory loads the archived record for a request.
func (r *HistoryRepo) GetHistory(ctx domain.Context, requestID string) (domain.HistoryRow, error) {
	tracer := otel.Tracer("repo.history")
	ctx, span := tracer.Start(ctx, "history.Get")
	defer span.End()

	q := `SELECT ` + historyColumns + ` FROM request_history WHERE request_id=$1`
	row, err := scanHistoryRow(r.Pool.QueryRow(ctx, q, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.HistoryRow{}, fmt.Errorf("op=history.get: %w: request %s", domain.ErrNotFound, requestID)
		}
		return domain.HistoryRow{}, fmt.Errorf("op=history.get: %w", err)
	}
	return row, nil
}

// ListHistory returns archived records newest first, optionally
// filtered by status.
func (r *HistoryRepo) ListHistory(ctx domain.Context, limit, offset int, status string) ([]domain.HistoryRow, error) {
	tracer := otel.Tracer("repo.history")
	ctx, span := tracer.Start(ctx, "history.List")
	defer span.End()

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	q := `SELECT ` + historyColumns + ` FROM request_history`
	args := []any{}
	if status != "" {
		q += ` WHERE status=$1`
		args = append(args, status)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=history.list: %w", err)
	}
	defer rows.Close()

	out := make([]domain.HistoryRow, 0, limit)
	for rows.Next() {
		row, err := scanHistoryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("op=history.list: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=history.list: %w", err)
	}
	return out, nil
}

// IsHealthy reports whether the database answers a trivial query.
func (r *HistoryRepo) IsHealthy(ctx domain.Context) bool {
	var one int
	return r.Pool.QueryRow(ctx, `SELECT 1`).Scan(&one) == nil
}

func scanHistoryRow(row pgx.Row) (domain.HistoryRow, error) {
	var h domain.HistoryRow
	var categories []byte
	if err := row.Scan(
		&h.RequestID, &h.Prompt, &h.TargetModel, &h.JudgeModel,
		&h.InferenceResponse, &h.InferenceLatencyMS, &h.InferenceTokens,
		&h.JudgeScore, &h.JudgeReasoning, &categories, &h.JudgeLatencyMS,
		&h.Status, &h.ErrorMessage, &h.CreatedAt, &h.CompletedAt,
	); err != nil {
		return domain.HistoryRow{}, err
	}
	if len(categories) > 0 {
		if err := json.Unmarshal(categories, &h.JudgeCategories); err != nil {
			return domain.HistoryRow{}, err
		}
	}
	return h, nil
}
