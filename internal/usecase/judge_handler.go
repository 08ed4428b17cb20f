package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelarena/llm-evaluator/internal/domain"
	obsctx "github.com/modelarena/llm-evaluator/internal/observability"
)

// JudgeHandler consumes judge messages: it scores the inference
// response, completes the request, and writes the durable archive
// record.
//
// Like the inference stage, a missing state record never blocks
// progress, but every failure path returns an error so the broker
// redelivers the message.
type JudgeHandler struct {
	State   domain.StateRepository
	Judge   domain.JudgeGateway
	Archive domain.ArchiveGateway
}

// NewJudgeHandler constructs a JudgeHandler.
func NewJudgeHandler(state domain.StateRepository, judge domain.JudgeGateway, archive domain.ArchiveGateway) JudgeHandler {
	return JudgeHandler{State: state, Judge: judge, Archive: archive}
}

// Handle processes one judge message. The archive write is the
// request's terminal act; a conflict there means a redelivered message
// found the work already done and counts as success.
func (h JudgeHandler) Handle(ctx domain.Context, msg domain.Message) error {
	logger := obsctx.LoggerFromContext(ctx)

	var jm domain.JudgeMessage
	if err := json.Unmarshal(msg.Contents, &jm); err != nil {
		logger.Error("undecodable judge message", slog.Any("error", err))
		return fmt.Errorf("op=judge.Handle: %w: undecodable payload", domain.ErrInvalidArgument)
	}
	logger = logger.With(slog.String("request_id", jm.RequestID))

	if err := h.updateState(ctx, logger, jm.RequestID, domain.StateUpdate{
		Stage: domain.StagePtr(domain.StageJudge),
	}); err != nil {
		return fmt.Errorf("op=judge.Handle: %w", err)
	}

	result, err := h.Judge.Judge(ctx, jm.OriginalPrompt(), jm.InferenceResponse(), jm.JudgeModelIdentifier())
	if err != nil {
		if errors.Is(err, domain.ErrUnavailable) {
			// The judge service being down is transient; redelivery
			// retries once it recovers, without marking the request
			// failed.
			return fmt.Errorf("op=judge.Handle: %w", err)
		}
		logger.Error("judging failed", slog.Any("error", err))
		h.markFailed(ctx, logger, jm.RequestID, err)
		h.archive(ctx, logger, h.failedRecord(ctx, jm, err))
		return fmt.Errorf("op=judge.Handle: %w", err)
	}

	if err := h.updateState(ctx, logger, jm.RequestID, domain.StateUpdate{
		Stage:       domain.StagePtr(domain.StageCompleted),
		JudgeResult: &result,
	}); err != nil {
		return fmt.Errorf("op=judge.Handle: %w", err)
	}

	rec := h.stateOrMessage(ctx, jm)
	rec.Stage = domain.StageCompleted
	rec.JudgeResult = &result
	if err := h.archiveStrict(ctx, logger, rec.ToHistoryRow()); err != nil {
		// Without the durable record the request is not complete;
		// redelivery retries the archive write.
		return fmt.Errorf("op=judge.Handle: %w", err)
	}

	logger.Info("request completed",
		slog.Float64("score", result.Score),
		slog.String("judge_model", result.Model))
	return nil
}

// stateOrMessage prefers the live state record (it has the original
// created_at) and falls back to rebuilding from the message when the
// record already aged out.
func (h JudgeHandler) stateOrMessage(ctx domain.Context, jm domain.JudgeMessage) domain.ProcessedRequest {
	if rec, err := h.State.Get(ctx, jm.RequestID); err == nil {
		return rec
	}
	rec := domain.NewProcessedRequest(jm.RequestID, jm.GatewayRequest)
	rec.InferenceResult = &jm.InferenceResult
	return rec
}

func (h JudgeHandler) failedRecord(ctx domain.Context, jm domain.JudgeMessage, cause error) domain.HistoryRow {
	rec := h.stateOrMessage(ctx, jm)
	rec.Stage = domain.StageFailed
	rec.ErrorMessage = cause.Error()
	return rec.ToHistoryRow()
}

// archiveStrict writes the terminal record, treating a conflict as
// success: request_id is unique in the archive, so a conflict proves a
// previous delivery already archived this request.
func (h JudgeHandler) archiveStrict(ctx domain.Context, logger *slog.Logger, row domain.HistoryRow) error {
	if _, err := h.Archive.CreateHistory(ctx, row); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Info("request already archived")
			return nil
		}
		return err
	}
	return nil
}

// archive is the best-effort variant used on the failure path, where
// the judging error already owns redelivery and a broken archive must
// not mask it.
func (h JudgeHandler) archive(ctx domain.Context, logger *slog.Logger, row domain.HistoryRow) {
	if err := h.archiveStrict(ctx, logger, row); err != nil {
		logger.Warn("failed to archive failed request", slog.Any("error", err))
	}
}

// updateState writes a state partial. A record that already aged out
// is not an error; any other store failure is returned so the message
// redelivers.
func (h JudgeHandler) updateState(ctx domain.Context, logger *slog.Logger, requestID string, upd domain.StateUpdate) error {
	if _, err := h.State.Update(ctx, requestID, upd); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("state record missing, continuing without it")
			return nil
		}
		return err
	}
	return nil
}

func (h JudgeHandler) markFailed(ctx domain.Context, logger *slog.Logger, requestID string, cause error) {
	if err := h.updateState(ctx, logger, requestID, domain.StateUpdate{
		Stage:        domain.StagePtr(domain.StageFailed),
		ErrorMessage: domain.StrPtr(cause.Error()),
	}); err != nil {
		logger.Warn("failed to mark request failed", slog.Any("error", err))
	}
}
