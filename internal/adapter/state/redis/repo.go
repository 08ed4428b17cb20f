// Package redis implements the ephemeral state store on Redis. Records
// live under request:{uuid} keys with a TTL so abandoned requests age
// out without a reaper.
package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/modelarena/llm-evaluator/internal/adapter/observability"
	"github.com/modelarena/llm-evaluator/internal/domain"
)

const keyPrefix = "request:"

// Repo is a domain.StateRepository backed by a Redis client.
type Repo struct {
	client     *goredis.Client
	defaultTTL time.Duration
}

// NewRepo constructs a Repo. defaultTTL bounds how long a record may
// sit in the store without reaching a terminal stage.
func NewRepo(client *goredis.Client, defaultTTL time.Duration) *Repo {
	return &Repo{client: client, defaultTTL: defaultTTL}
}

func key(requestID string) string { return keyPrefix + requestID }

// Create stores the initial record with the default TTL. An existing
// record for the same id is a conflict; request ids are producer-minted
// UUIDs so this only fires on a duplicate submission bug.
func (r *Repo) Create(ctx domain.Context, req domain.ProcessedRequest) (domain.ProcessedRequest, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return domain.ProcessedRequest{}, fmt.Errorf("op=state.Create: %w", err)
	}

	ok, err := r.client.SetNX(ctx, key(req.RequestID), b, r.defaultTTL).Result()
	if err != nil {
		return domain.ProcessedRequest{}, fmt.Errorf("op=state.Create: %w: %w", domain.ErrUnavailable, err)
	}
	if !ok {
		return domain.ProcessedRequest{}, fmt.Errorf("op=state.Create: %w: request %s already exists", domain.ErrConflict, req.RequestID)
	}

	slog.Debug("created state record",
		slog.String("request_id", req.RequestID),
		slog.String("stage", string(req.Stage)))
	return req, nil
}

// Get fetches a record by request id.
func (r *Repo) Get(ctx domain.Context, requestID string) (domain.ProcessedRequest, error) {
	b, err := r.client.Get(ctx, key(requestID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.ProcessedRequest{}, fmt.Errorf("op=state.Get: %w: request %s", domain.ErrNotFound, requestID)
	}
	if err != nil {
		return domain.ProcessedRequest{}, fmt.Errorf("op=state.Get: %w: %w", domain.ErrUnavailable, err)
	}

	var rec domain.ProcessedRequest
	if err := json.Unmarshal(b, &rec); err != nil {
		return domain.ProcessedRequest{}, fmt.Errorf("op=state.Get: %w", err)
	}
	return rec, nil
}

// Update reads the record, applies the merge, and writes it back with
// the key's remaining TTL. A key whose TTL cannot be read, or that has
// none, gets the default TTL so no record can outlive the store's
// aging policy. The pipeline is single-writer per stage, so
// read-merge-write without a transaction is sufficient.
func (r *Repo) Update(ctx domain.Context, requestID string, upd domain.StateUpdate) (domain.ProcessedRequest, error) {
	rec, err := r.Get(ctx, requestID)
	if err != nil {
		return domain.ProcessedRequest{}, err
	}

	prevStage := rec.Stage
	rec = upd.Apply(rec)

	b, err := json.Marshal(rec)
	if err != nil {
		return domain.ProcessedRequest{}, fmt.Errorf("op=state.Update: %w", err)
	}
	ttl := r.defaultTTL
	if remaining, err := r.client.TTL(ctx, key(requestID)).Result(); err == nil && remaining > 0 {
		ttl = remaining
	}
	if err := r.client.Set(ctx, key(requestID), b, ttl).Err(); err != nil {
		return domain.ProcessedRequest{}, fmt.Errorf("op=state.Update: %w: %w", domain.ErrUnavailable, err)
	}

	if rec.Stage != prevStage {
		observability.RecordStageTransition(string(rec.Stage))
		slog.Info("stage transition",
			slog.String("request_id", requestID),
			slog.String("from", string(prevStage)),
			slog.String("to", string(rec.Stage)))
	}
	return rec, nil
}

// Delete removes a record, reporting whether it existed.
func (r *Repo) Delete(ctx domain.Context, requestID string) (bool, error) {
	n, err := r.client.Del(ctx, key(requestID)).Result()
	if err != nil {
		return false, fmt.Errorf("op=state.Delete: %w: %w", domain.ErrUnavailable, err)
	}
	return n > 0, nil
}

// IsHealthy pings the store.
func (r *Repo) IsHealthy(ctx domain.Context) bool {
	return r.client.Ping(ctx).Err() == nil
}
