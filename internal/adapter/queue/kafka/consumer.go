package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/modelarena/llm-evaluator/internal/adapter/queue/shared"
	"github.com/modelarena/llm-evaluator/internal/domain"
	obsctx "github.com/modelarena/llm-evaluator/internal/observability"
)

// kafkaClient is the franz-go surface the consumer loop uses; tests
// substitute a fake.
type kafkaClient interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	Close()
}

// Consumer reads one Kafka topic within a consumer group and feeds
// records to a bounded handler pool. Records of one partition are
// handled strictly in offset order, one at a time; concurrency comes
// from handling partitions in parallel. Auto-commit is disabled and an
// offset is committed only after its handler succeeds, so the group
// offset never advances past an unprocessed record and a crash replays
// uncommitted records (at-least-once).
type Consumer struct {
	topic      string
	client     kafkaClient
	dispatcher *shared.Dispatcher
}

// NewConsumer joins the consumer group for the logical topic's Kafka
// topic.
func NewConsumer(topic, kafkaTopic, groupID string, brokers []string, dispatcher *shared.Dispatcher) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=kafka.NewConsumer: %w: no seed brokers provided", domain.ErrInvalidArgument)
	}

	kotelService := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(kafkaTopic),
		kgo.DisableAutoCommit(),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.BlockRebalanceOnPoll(),
	)
	if err != nil {
		return nil, fmt.Errorf("op=kafka.NewConsumer: %w", err)
	}

	if err := ensureTopic(context.Background(), client, kafkaTopic, 8, 1); err != nil {
		slog.Warn("failed to ensure topic",
			slog.String("topic", kafkaTopic),
			slog.Any("error", err))
	}

	return newConsumer(topic, client, dispatcher), nil
}

func newConsumer(topic string, client kafkaClient, dispatcher *shared.Dispatcher) *Consumer {
	return &Consumer{topic: topic, client: client, dispatcher: dispatcher}
}

// Start runs the poll loop until ctx is cancelled or the client is
// closed. It returns nil on a clean shutdown.
func (c *Consumer) Start(ctx domain.Context) error {
	slog.Info("starting kafka consumer", slog.String("topic", c.topic))

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("fetch error",
				slog.String("kafka_topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err))
		})

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			stopErr error
		)
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if len(p.Records) == 0 {
				return
			}
			wg.Add(1)
			go func(records []*kgo.Record) {
				defer wg.Done()
				if err := c.consumePartition(ctx, records); err != nil {
					mu.Lock()
					if stopErr == nil {
						stopErr = err
					}
					mu.Unlock()
				}
			}(p.Records)
		})
		wg.Wait()

		if stopErr != nil {
			if errors.Is(stopErr, context.Canceled) || errors.Is(stopErr, context.DeadlineExceeded) {
				return nil
			}
			return stopErr
		}
	}
}

// consumePartition handles one partition's batch in offset order. The
// next record is not dispatched until the previous handler finished,
// and a failed record stops the batch, so commits only ever cover a
// contiguous prefix of successes.
func (c *Consumer) consumePartition(ctx domain.Context, records []*kgo.Record) error {
	for _, record := range records {
		proceed, err := c.consumeRecord(ctx, record)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}
	return nil
}

// consumeRecord dispatches one record and waits for its handler. It
// reports whether the partition may move to the next offset; a record
// whose handler fails is not committed and replays after the next
// rebalance or restart.
func (c *Consumer) consumeRecord(ctx domain.Context, record *kgo.Record) (bool, error) {
	if err := c.dispatcher.Acquire(ctx); err != nil {
		return false, err
	}

	attrs := make(map[string]string, len(record.Headers))
	for _, h := range record.Headers {
		attrs[h.Key] = string(h.Value)
	}

	messageID := attrs[HeaderMessageID]
	if messageID == "" {
		messageID = fmt.Sprintf("%s-%d-%d", record.Topic, record.Partition, record.Offset)
	}

	msg := domain.Message{ID: messageID, Contents: record.Value, Attributes: attrs}
	hctx := c.handlerContext(ctx, messageID, attrs)

	done := make(chan error, 1)
	c.dispatcher.Dispatch(hctx, msg, func(handleErr error) { done <- handleErr })

	if handleErr := <-done; handleErr != nil {
		slog.Error("message handling failed, partition paused at offset",
			slog.String("topic", c.topic),
			slog.String("message_id", messageID),
			slog.Int64("offset", record.Offset),
			slog.Any("error", handleErr))
		return false, nil
	}

	// Kafka commits are cumulative, so a failed commit here is safe to
	// skip past: the next successful commit covers this offset too.
	if err := c.client.CommitRecords(context.Background(), record); err != nil {
		slog.Error("failed to commit record",
			slog.String("topic", c.topic),
			slog.String("message_id", messageID),
			slog.Any("error", err))
	}
	return true, nil
}

func (c *Consumer) handlerContext(ctx domain.Context, messageID string, attrs map[string]string) domain.Context {
	if len(attrs) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(attrs))
	}
	logger := obsctx.LoggerFromContext(ctx).With(
		slog.String("topic", c.topic),
		slog.String("message_id", messageID))
	return obsctx.ContextWithLogger(ctx, logger)
}

// Close stops polling and drains in-flight handlers within the grace
// period. Uncommitted offsets replay on the next start.
func (c *Consumer) Close() error {
	c.client.Close()
	return c.dispatcher.Close()
}
