package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelarena/llm-evaluator/internal/domain"
	obsctx "github.com/modelarena/llm-evaluator/internal/observability"
)

// InferenceHandler consumes inference messages: it runs the target
// model and hands the outcome to the judge stage.
//
// Messages are self-contained, so a missing state record (aged out via
// TTL) never blocks progress; any other state-store failure fails the
// handler and the message redelivers.
type InferenceHandler struct {
	State     domain.StateRepository
	Queue     domain.Publisher
	Providers domain.ProviderFactory
}

// NewInferenceHandler constructs an InferenceHandler.
func NewInferenceHandler(state domain.StateRepository, queue domain.Publisher, providers domain.ProviderFactory) InferenceHandler {
	return InferenceHandler{State: state, Queue: queue, Providers: providers}
}

// Handle processes one inference message. A nil return finalizes the
// message; an error leaves it for broker redelivery. Every failure
// path returns an error: transient ones retry toward success, and a
// payload that can never succeed keeps failing until the broker's
// redelivery limit moves it to the dead-letter queue.
func (h InferenceHandler) Handle(ctx domain.Context, msg domain.Message) error {
	logger := obsctx.LoggerFromContext(ctx)

	var im domain.InferenceMessage
	if err := json.Unmarshal(msg.Contents, &im); err != nil {
		logger.Error("undecodable inference message", slog.Any("error", err))
		return fmt.Errorf("op=inference.Handle: %w: undecodable payload", domain.ErrInvalidArgument)
	}
	logger = logger.With(slog.String("request_id", im.RequestID))

	if err := h.updateState(ctx, logger, im.RequestID, domain.StateUpdate{
		Stage: domain.StagePtr(domain.StageInference),
	}); err != nil {
		return fmt.Errorf("op=inference.Handle: %w", err)
	}

	result, err := h.runInference(ctx, im)
	if err != nil {
		// Provider clients retry transient failures internally; what
		// surfaces here is final for this attempt. The Failed mark is
		// best-effort — the failure return already owns redelivery.
		logger.Error("inference failed", slog.Any("error", err))
		h.markFailed(ctx, logger, im.RequestID, err)
		return fmt.Errorf("op=inference.Handle: %w", err)
	}

	if err := h.updateState(ctx, logger, im.RequestID, domain.StateUpdate{
		InferenceResult: &result,
	}); err != nil {
		return fmt.Errorf("op=inference.Handle: %w", err)
	}

	payload, err := domain.NewJudgeMessage(im.RequestID, im.GatewayRequest, result).Marshal()
	if err != nil {
		return fmt.Errorf("op=inference.Handle: %w", err)
	}
	if err := h.Queue.Publish(ctx, domain.TopicJudge, payload); err != nil {
		// Redelivery re-runs the inference; at-least-once absorbs the
		// duplicate downstream.
		return fmt.Errorf("op=inference.Handle: %w", err)
	}

	logger.Info("inference completed",
		slog.String("model", result.Model),
		slog.Float64("latency_ms", result.LatencyMS))
	return nil
}

func (h InferenceHandler) runInference(ctx domain.Context, im domain.InferenceMessage) (domain.InferenceResult, error) {
	logicalName := im.GatewayRequest.TargetModel.Name
	provider, err := h.Providers.CreateProvider(logicalName, im.GatewayRequest.APIKey.Reveal())
	if err != nil {
		return domain.InferenceResult{}, err
	}
	return provider.Generate(ctx, im.GatewayRequest.Prompt, domain.InferenceConfig{
		Model: h.Providers.ResolveModelName(logicalName),
	})
}

// updateState writes a state partial. A record that already aged out
// is not an error — messages carry everything a handler needs — but
// any other store failure is returned so the message redelivers.
func (h InferenceHandler) updateState(ctx domain.Context, logger *slog.Logger, requestID string, upd domain.StateUpdate) error {
	if _, err := h.State.Update(ctx, requestID, upd); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("state record missing, continuing without it")
			return nil
		}
		return err
	}
	return nil
}

func (h InferenceHandler) markFailed(ctx domain.Context, logger *slog.Logger, requestID string, cause error) {
	if err := h.updateState(ctx, logger, requestID, domain.StateUpdate{
		Stage:        domain.StagePtr(domain.StageFailed),
		ErrorMessage: domain.StrPtr(cause.Error()),
	}); err != nil {
		logger.Warn("failed to mark request failed", slog.Any("error", err))
	}
}
