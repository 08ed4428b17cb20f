// Package usecase orchestrates the request lifecycle: submission at
// the gateway, inference, and judging. Services hold the domain ports
// and carry no transport or broker specifics.
package usecase

import (
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/modelarena/llm-evaluator/internal/domain"
)

// SubmissionService accepts gateway submissions, seeds the state
// record, and enqueues the inference stage.
type SubmissionService struct {
	State    domain.StateRepository
	Queue    domain.Publisher
	validate *validator.Validate
}

// NewSubmissionService constructs a SubmissionService.
func NewSubmissionService(state domain.StateRepository, queue domain.Publisher) SubmissionService {
	return SubmissionService{
		State:    state,
		Queue:    queue,
		validate: validator.New(),
	}
}

// Submit validates the request, creates the Gateway-stage state record,
// and publishes the inference message. The record is created before the
// publish; if the publish fails the record ages out via its TTL rather
// than being compensated, since the request id was never returned.
func (s SubmissionService) Submit(ctx domain.Context, req domain.GatewayRequest) (string, error) {
	if err := s.validate.Struct(req); err != nil {
		return "", fmt.Errorf("op=submit: %w: %v", domain.ErrInvalidArgument, err)
	}

	requestID := uuid.New().String()
	rec := domain.NewProcessedRequest(requestID, req)
	if _, err := s.State.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("op=submit: %w", err)
	}

	payload, err := domain.NewInferenceMessage(requestID, req).Marshal()
	if err != nil {
		return "", fmt.Errorf("op=submit: %w", err)
	}
	if err := s.Queue.Publish(ctx, domain.TopicInference, payload); err != nil {
		return "", fmt.Errorf("op=submit: %w", err)
	}

	slog.Info("request submitted",
		slog.String("request_id", requestID),
		slog.String("target_model", req.TargetModel.Name),
		slog.String("judge_model", req.JudgeModel.Identifier()))
	return requestID, nil
}

// GetMetadata returns the live state record for a request.
func (s SubmissionService) GetMetadata(ctx domain.Context, requestID string) (domain.ProcessedRequest, error) {
	if _, err := uuid.Parse(requestID); err != nil {
		return domain.ProcessedRequest{}, fmt.Errorf("op=metadata: %w: malformed request id", domain.ErrInvalidArgument)
	}
	return s.State.Get(ctx, requestID)
}
