package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisstate "github.com/modelarena/llm-evaluator/internal/adapter/state/redis"
	"github.com/modelarena/llm-evaluator/internal/domain"
)

func newTestRepo(t *testing.T) (*redisstate.Repo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstate.NewRepo(client, time.Hour), mr
}

func sampleRecord() domain.ProcessedRequest {
	return domain.NewProcessedRequest("11111111-2222-3333-4444-555555555555", domain.GatewayRequest{
		Prompt:      "What is 2+2?",
		TargetModel: domain.ModelRef{Name: "ChatGPT"},
		JudgeModel:  domain.JudgeModelRef{Name: "qwen2.5", Version: "latest"},
		APIKey:      domain.Secret("sk-test"),
	})
}

func TestRepo_CreateAndGet(t *testing.T) {
	t.Parallel()
	repo, mr := newTestRepo(t)
	ctx := context.Background()
	rec := sampleRecord()

	created, err := repo.Create(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, domain.StageGateway, created.Stage)

	got, err := repo.Get(ctx, rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// The record carries the configured TTL.
	ttl := mr.TTL("request:" + rec.RequestID)
	assert.Equal(t, time.Hour, ttl)
}

func TestRepo_CreateDuplicateConflicts(t *testing.T) {
	t.Parallel()
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	rec := sampleRecord()

	_, err := repo.Create(ctx, rec)
	require.NoError(t, err)

	_, err = repo.Create(ctx, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRepo_GetMissing(t *testing.T) {
	t.Parallel()
	repo, _ := newTestRepo(t)

	_, err := repo.Get(context.Background(), "no-such-id")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepo_UpdateMergesAndKeepsTTL(t *testing.T) {
	t.Parallel()
	repo, mr := newTestRepo(t)
	ctx := context.Background()
	rec := sampleRecord()

	_, err := repo.Create(ctx, rec)
	require.NoError(t, err)

	// Burn some of the TTL before updating.
	mr.FastForward(10 * time.Minute)

	res := &domain.InferenceResult{Response: "4", Model: "gpt-4o-mini", LatencyMS: 812.5}
	updated, err := repo.Update(ctx, rec.RequestID, domain.StateUpdate{
		Stage:           domain.StagePtr(domain.StageInference),
		InferenceResult: res,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StageInference, updated.Stage)
	require.NotNil(t, updated.InferenceResult)
	assert.Equal(t, "4", updated.InferenceResult.Response)
	assert.Equal(t, rec.GatewayRequest, updated.GatewayRequest, "untouched fields survive the merge")

	// Updating must not reset the expiry clock.
	ttl := mr.TTL("request:" + rec.RequestID)
	assert.Equal(t, 50*time.Minute, ttl)
}

func TestRepo_UpdateRestoresMissingTTL(t *testing.T) {
	t.Parallel()
	repo, mr := newTestRepo(t)
	ctx := context.Background()
	rec := sampleRecord()

	_, err := repo.Create(ctx, rec)
	require.NoError(t, err)

	// Simulate a key that lost its expiry; the update must not leave it
	// immortal.
	mr.SetTTL("request:"+rec.RequestID, 0)

	_, err = repo.Update(ctx, rec.RequestID, domain.StateUpdate{
		Stage: domain.StagePtr(domain.StageInference),
	})
	require.NoError(t, err)

	ttl := mr.TTL("request:" + rec.RequestID)
	assert.Equal(t, time.Hour, ttl, "update falls back to the default TTL")
}

func TestRepo_UpdateMissing(t *testing.T) {
	t.Parallel()
	repo, _ := newTestRepo(t)

	_, err := repo.Update(context.Background(), "no-such-id", domain.StateUpdate{
		Stage: domain.StagePtr(domain.StageInference),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepo_UpdateDropsStageRegression(t *testing.T) {
	t.Parallel()
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	rec := sampleRecord()

	_, err := repo.Create(ctx, rec)
	require.NoError(t, err)
	_, err = repo.Update(ctx, rec.RequestID, domain.StateUpdate{Stage: domain.StagePtr(domain.StageCompleted)})
	require.NoError(t, err)

	// A redelivered judge message tries to move a completed record back.
	updated, err := repo.Update(ctx, rec.RequestID, domain.StateUpdate{Stage: domain.StagePtr(domain.StageJudge)})
	require.NoError(t, err)
	assert.Equal(t, domain.StageCompleted, updated.Stage)
}

func TestRepo_Delete(t *testing.T) {
	t.Parallel()
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	rec := sampleRecord()

	_, err := repo.Create(ctx, rec)
	require.NoError(t, err)

	existed, err := repo.Delete(ctx, rec.RequestID)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = repo.Delete(ctx, rec.RequestID)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestRepo_IsHealthy(t *testing.T) {
	t.Parallel()
	repo, mr := newTestRepo(t)
	assert.True(t, repo.IsHealthy(context.Background()))

	mr.Close()
	assert.False(t, repo.IsHealthy(context.Background()))
}
