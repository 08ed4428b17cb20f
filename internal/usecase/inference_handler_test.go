package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/modelarena/llm-evaluator/internal/domain"
	"github.com/modelarena/llm-evaluator/internal/domain/mocks"
	"github.com/modelarena/llm-evaluator/internal/usecase"
)

const testRequestID = "11111111-2222-3333-4444-555555555555"

func inferenceMessage(t *testing.T) domain.Message {
	t.Helper()
	payload, err := domain.NewInferenceMessage(testRequestID, sampleRequest()).Marshal()
	require.NoError(t, err)
	return domain.Message{ID: "m-1", Contents: payload}
}

func stageUpdate(stage domain.Stage) any {
	return mock.MatchedBy(func(upd domain.StateUpdate) bool {
		return upd.Stage != nil && *upd.Stage == stage
	})
}

func TestInferenceHandler_HappyPath(t *testing.T) {
	t.Parallel()
	state := &mocks.MockStateRepository{}
	queue := &mocks.MockPublisher{}
	factory := &mocks.MockProviderFactory{}
	provider := &mocks.MockProvider{}
	h := usecase.NewInferenceHandler(state, queue, factory)

	result := domain.InferenceResult{
		Response:    "4",
		Model:       "gpt-4o-mini",
		LatencyMS:   812.5,
		TotalTokens: domain.IntPtr(13),
	}

	state.On("Update", mock.Anything, testRequestID, stageUpdate(domain.StageInference)).
		Return(domain.ProcessedRequest{}, nil).Once()
	factory.On("CreateProvider", "ChatGPT", "sk-test").Return(provider, nil).Once()
	factory.On("ResolveModelName", "ChatGPT").Return("gpt-4o-mini").Once()
	provider.On("Generate", mock.Anything, "What is 2+2?", domain.InferenceConfig{Model: "gpt-4o-mini"}).
		Return(result, nil).Once()
	state.On("Update", mock.Anything, testRequestID, mock.MatchedBy(func(upd domain.StateUpdate) bool {
		return upd.InferenceResult != nil && upd.InferenceResult.Response == "4"
	})).Return(domain.ProcessedRequest{}, nil).Once()
	queue.On("Publish", mock.Anything, domain.TopicJudge, mock.MatchedBy(func(payload []byte) bool {
		var jm domain.JudgeMessage
		if err := json.Unmarshal(payload, &jm); err != nil {
			return false
		}
		return jm.RequestID == testRequestID &&
			jm.TopicName == domain.TopicJudge &&
			jm.InferenceResult.Response == "4" &&
			jm.GatewayRequest.Prompt == "What is 2+2?"
	})).Return(nil).Once()

	require.NoError(t, h.Handle(context.Background(), inferenceMessage(t)))
	state.AssertExpectations(t)
	queue.AssertExpectations(t)
	provider.AssertExpectations(t)
}

func TestInferenceHandler_ProviderFailureMarksFailed(t *testing.T) {
	t.Parallel()
	state := &mocks.MockStateRepository{}
	queue := &mocks.MockPublisher{}
	factory := &mocks.MockProviderFactory{}
	provider := &mocks.MockProvider{}
	h := usecase.NewInferenceHandler(state, queue, factory)

	state.On("Update", mock.Anything, testRequestID, stageUpdate(domain.StageInference)).
		Return(domain.ProcessedRequest{}, nil).Once()
	factory.On("CreateProvider", "ChatGPT", "sk-test").Return(provider, nil).Once()
	factory.On("ResolveModelName", "ChatGPT").Return("gpt-4o-mini").Once()
	provider.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.InferenceResult{}, assert.AnError).Once()
	state.On("Update", mock.Anything, testRequestID, mock.MatchedBy(func(upd domain.StateUpdate) bool {
		return upd.Stage != nil && *upd.Stage == domain.StageFailed &&
			upd.ErrorMessage != nil && *upd.ErrorMessage != ""
	})).Return(domain.ProcessedRequest{}, nil).Once()

	// The request is marked Failed and the failure propagates so the
	// broker owns redelivery.
	err := h.Handle(context.Background(), inferenceMessage(t))
	require.Error(t, err)
	queue.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	state.AssertExpectations(t)
}

func TestInferenceHandler_RateLimitFailureReturnsError(t *testing.T) {
	t.Parallel()
	state := &mocks.MockStateRepository{}
	queue := &mocks.MockPublisher{}
	factory := &mocks.MockProviderFactory{}
	provider := &mocks.MockProvider{}
	h := usecase.NewInferenceHandler(state, queue, factory)

	rateLimited := errors.New("Rate limit exceeded")
	state.On("Update", mock.Anything, testRequestID, mock.Anything).
		Return(domain.ProcessedRequest{}, nil)
	factory.On("CreateProvider", "ChatGPT", "sk-test").Return(provider, nil).Once()
	factory.On("ResolveModelName", "ChatGPT").Return("gpt-4o-mini").Once()
	provider.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.InferenceResult{}, rateLimited).Once()

	err := h.Handle(context.Background(), inferenceMessage(t))
	require.ErrorIs(t, err, rateLimited)
}

func TestInferenceHandler_StateStoreFailureReturnsError(t *testing.T) {
	t.Parallel()
	state := &mocks.MockStateRepository{}
	queue := &mocks.MockPublisher{}
	factory := &mocks.MockProviderFactory{}
	h := usecase.NewInferenceHandler(state, queue, factory)

	// Unlike a missing record, a broken state store must fail the
	// message so it redelivers once the store recovers.
	state.On("Update", mock.Anything, testRequestID, mock.Anything).
		Return(domain.ProcessedRequest{}, assert.AnError).Once()

	err := h.Handle(context.Background(), inferenceMessage(t))
	require.ErrorIs(t, err, assert.AnError)
	factory.AssertNotCalled(t, "CreateProvider", mock.Anything, mock.Anything)
}

func TestInferenceHandler_PublishFailureLeavesForRedelivery(t *testing.T) {
	t.Parallel()
	state := &mocks.MockStateRepository{}
	queue := &mocks.MockPublisher{}
	factory := &mocks.MockProviderFactory{}
	provider := &mocks.MockProvider{}
	h := usecase.NewInferenceHandler(state, queue, factory)

	state.On("Update", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.ProcessedRequest{}, nil)
	factory.On("CreateProvider", mock.Anything, mock.Anything).Return(provider, nil).Once()
	factory.On("ResolveModelName", mock.Anything).Return("gpt-4o-mini").Once()
	provider.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.InferenceResult{Response: "4", Model: "gpt-4o-mini"}, nil).Once()
	queue.On("Publish", mock.Anything, domain.TopicJudge, mock.Anything).Return(assert.AnError).Once()

	err := h.Handle(context.Background(), inferenceMessage(t))
	require.Error(t, err)
}

func TestInferenceHandler_MissingStateStillProgresses(t *testing.T) {
	t.Parallel()
	state := &mocks.MockStateRepository{}
	queue := &mocks.MockPublisher{}
	factory := &mocks.MockProviderFactory{}
	provider := &mocks.MockProvider{}
	h := usecase.NewInferenceHandler(state, queue, factory)

	// The record aged out of Redis; the message alone carries enough.
	state.On("Update", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.ProcessedRequest{}, domain.ErrNotFound)
	factory.On("CreateProvider", mock.Anything, mock.Anything).Return(provider, nil).Once()
	factory.On("ResolveModelName", mock.Anything).Return("gpt-4o-mini").Once()
	provider.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.InferenceResult{Response: "4", Model: "gpt-4o-mini"}, nil).Once()
	queue.On("Publish", mock.Anything, domain.TopicJudge, mock.Anything).Return(nil).Once()

	require.NoError(t, h.Handle(context.Background(), inferenceMessage(t)))
	queue.AssertExpectations(t)
}

func TestInferenceHandler_UndecodableMessageFails(t *testing.T) {
	t.Parallel()
	state := &mocks.MockStateRepository{}
	queue := &mocks.MockPublisher{}
	h := usecase.NewInferenceHandler(state, queue, &mocks.MockProviderFactory{})

	// A payload that can never decode keeps failing until the broker's
	// redelivery limit moves it to the dead-letter queue.
	err := h.Handle(context.Background(), domain.Message{ID: "m-1", Contents: []byte(`{broken`)})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	state.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	queue.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}
