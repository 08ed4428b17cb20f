// Package mocks provides testify mocks for the domain ports.
package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/modelarena/llm-evaluator/internal/domain"
)

// MockStateRepository mocks domain.StateRepository.
type MockStateRepository struct{ mock.Mock }

func (m *MockStateRepository) Create(ctx domain.Context, req domain.ProcessedRequest) (domain.ProcessedRequest, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.ProcessedRequest), args.Error(1)
}

func (m *MockStateRepository) Get(ctx domain.Context, requestID string) (domain.ProcessedRequest, error) {
	args := m.Called(ctx, requestID)
	return args.Get(0).(domain.ProcessedRequest), args.Error(1)
}

func (m *MockStateRepository) Update(ctx domain.Context, requestID string, upd domain.StateUpdate) (domain.ProcessedRequest, error) {
	args := m.Called(ctx, requestID, upd)
	return args.Get(0).(domain.ProcessedRequest), args.Error(1)
}

func (m *MockStateRepository) Delete(ctx domain.Context, requestID string) (bool, error) {
	args := m.Called(ctx, requestID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStateRepository) IsHealthy(ctx domain.Context) bool {
	return m.Called(ctx).Bool(0)
}

// MockArchiveGateway mocks domain.ArchiveGateway.
type MockArchiveGateway struct{ mock.Mock }

func (m *MockArchiveGateway) CreateHistory(ctx domain.Context, row domain.HistoryRow) (domain.HistoryRow, error) {
	args := m.Called(ctx, row)
	return args.Get(0).(domain.HistoryRow), args.Error(1)
}

func (m *MockArchiveGateway) ListHistory(ctx domain.Context, limit, offset int, status string) ([]domain.HistoryRow, error) {
	args := m.Called(ctx, limit, offset, status)
	if rows := args.Get(0); rows != nil {
		return rows.([]domain.HistoryRow), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockArchiveGateway) GetHistory(ctx domain.Context, requestID string) (domain.HistoryRow, error) {
	args := m.Called(ctx, requestID)
	return args.Get(0).(domain.HistoryRow), args.Error(1)
}

func (m *MockArchiveGateway) IsHealthy(ctx domain.Context) bool {
	return m.Called(ctx).Bool(0)
}

// MockJudgeGateway mocks domain.JudgeGateway.
type MockJudgeGateway struct{ mock.Mock }

func (m *MockJudgeGateway) Judge(ctx domain.Context, originalPrompt, modelResponse, model string) (domain.JudgeResult, error) {
	args := m.Called(ctx, originalPrompt, modelResponse, model)
	return args.Get(0).(domain.JudgeResult), args.Error(1)
}

func (m *MockJudgeGateway) IsHealthy(ctx domain.Context) bool {
	return m.Called(ctx).Bool(0)
}

// MockPublisher mocks domain.Publisher.
type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(ctx domain.Context, topic string, payload []byte) error {
	return m.Called(ctx, topic, payload).Error(0)
}

func (m *MockPublisher) Close() error { return m.Called().Error(0) }

// MockProvider mocks domain.Provider.
type MockProvider struct{ mock.Mock }

func (m *MockProvider) Generate(ctx domain.Context, prompt string, cfg domain.InferenceConfig) (domain.InferenceResult, error) {
	args := m.Called(ctx, prompt, cfg)
	return args.Get(0).(domain.InferenceResult), args.Error(1)
}

// MockProviderFactory mocks domain.ProviderFactory.
type MockProviderFactory struct{ mock.Mock }

func (m *MockProviderFactory) CreateProvider(logicalName, apiKey string) (domain.Provider, error) {
	args := m.Called(logicalName, apiKey)
	if p := args.Get(0); p != nil {
		return p.(domain.Provider), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProviderFactory) ResolveModelName(logicalName string) string {
	return m.Called(logicalName).String(0)
}
