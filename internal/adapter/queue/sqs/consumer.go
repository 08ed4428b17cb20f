package sqs

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/modelarena/llm-evaluator/internal/adapter/queue/shared"
	"github.com/modelarena/llm-evaluator/internal/domain"
	obsctx "github.com/modelarena/llm-evaluator/internal/observability"
)

// Consumer drives the at-least-once lifecycle for one queue: poll,
// register for visibility extension, dispatch to a bounded handler
// pool, then finalize. Successful messages are deleted; failed ones are
// left for redelivery after the visibility timeout lapses.
type Consumer struct {
	topic      string
	client     *Client
	poller     *Poller
	extender   *Extender
	dispatcher *shared.Dispatcher
}

// NewConsumer assembles a Consumer for a logical topic.
func NewConsumer(topic string, client *Client, poller *Poller, extender *Extender, dispatcher *shared.Dispatcher) *Consumer {
	return &Consumer{
		topic:      topic,
		client:     client,
		poller:     poller,
		extender:   extender,
		dispatcher: dispatcher,
	}
}

// Start runs the consume loop until Close or ctx cancellation. It
// returns nil on a clean shutdown.
func (c *Consumer) Start(ctx domain.Context) error {
	c.extender.Start()
	slog.Info("starting queue consumer", slog.String("topic", c.topic))

	for batch := range c.poller.Poll(ctx) {
		for _, pm := range batch {
			if err := c.consumeOne(ctx, pm); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				return err
			}
		}
	}
	return nil
}

// consumeOne registers, dispatches, and arranges finalization for a
// single message. The returned error is non-nil only when the loop
// itself must stop.
func (c *Consumer) consumeOne(ctx domain.Context, pm ParsedMessage) error {
	// Register before dispatch so a handler slower than the visibility
	// timeout is covered from its first second.
	if err := c.extender.Register(pm.MessageID, pm.ReceiptHandle); err != nil {
		// Redelivery of a message whose handler is still running. The
		// original receipt owns finalization; this copy is dropped.
		slog.Warn("skipping message already in flight",
			slog.String("topic", c.topic),
			slog.String("message_id", pm.MessageID))
		return nil
	}

	if err := c.dispatcher.Acquire(ctx); err != nil {
		c.extender.Unregister(pm.MessageID)
		return err
	}

	msg := domain.Message{ID: pm.MessageID, Contents: pm.Contents, Attributes: pm.Attributes}
	hctx := c.handlerContext(ctx, pm)
	receiptHandle := pm.ReceiptHandle

	c.dispatcher.Dispatch(hctx, msg, func(handleErr error) {
		c.finalize(msg.ID, receiptHandle, handleErr)
	})
	return nil
}

// handlerContext extracts the upstream trace context from the message
// attributes and tags the logger with the message identity.
func (c *Consumer) handlerContext(ctx domain.Context, pm ParsedMessage) domain.Context {
	if len(pm.Attributes) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(pm.Attributes))
	}
	logger := obsctx.LoggerFromContext(ctx).With(
		slog.String("topic", c.topic),
		slog.String("message_id", pm.MessageID))
	return obsctx.ContextWithLogger(ctx, logger)
}

// finalize settles a handled message: delete on success, leave for
// redelivery on failure. The extender entry is removed on both paths.
func (c *Consumer) finalize(messageID, receiptHandle string, handleErr error) {
	defer c.extender.Unregister(messageID)

	if handleErr != nil {
		slog.Error("message handling failed, leaving message for redelivery",
			slog.String("topic", c.topic),
			slog.String("message_id", messageID),
			slog.Any("error", handleErr))
		return
	}

	if err := c.client.Delete(context.Background(), receiptHandle); err != nil {
		// The handler's effects are durable; the broker will redeliver
		// and downstream idempotence absorbs the duplicate.
		slog.Error("failed to delete handled message",
			slog.String("topic", c.topic),
			slog.String("message_id", messageID),
			slog.Any("error", err))
	}
}

// Close stops polling, drains in-flight handlers within the grace
// period, and stops the visibility extender.
func (c *Consumer) Close() error {
	c.poller.Close()
	err := c.dispatcher.Close()
	c.extender.Close()
	return err
}
