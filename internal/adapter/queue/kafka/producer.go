package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/modelarena/llm-evaluator/internal/adapter/observability"
	"github.com/modelarena/llm-evaluator/internal/domain"
)

// HeaderMessageID carries the producer-assigned message id; the
// consumer surfaces it as the broker-agnostic message identity.
const HeaderMessageID = "message_id"

// Publish is called from concurrent handlers, so the monotonic entropy
// source is wrapped in the locked reader.
//
//nolint:gosec // Weak random is sufficient for ULID entropy.
var ulidEntropy = &ulid.LockedMonotonicReader{
	MonotonicReader: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
}

// Producer publishes payloads to Kafka topics synchronously: Publish
// returns only after the broker has acknowledged the record, matching
// the durability contract of the SNS backend.
type Producer struct {
	client   *kgo.Client
	topicMap map[string]string
}

// NewProducer connects to the brokers and ensures the mapped topics
// exist. topicMap translates logical topic names to Kafka topics.
func NewProducer(ctx context.Context, brokers []string, topicMap map[string]string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=kafka.NewProducer: %w: no seed brokers provided", domain.ErrInvalidArgument)
	}

	kotelService := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
		kgo.RecordDeliveryTimeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=kafka.NewProducer: %w", err)
	}

	for logical, topic := range topicMap {
		if err := ensureTopic(ctx, client, topic, 8, 1); err != nil {
			slog.Warn("failed to ensure topic",
				slog.String("logical_topic", logical),
				slog.String("topic", topic),
				slog.Any("error", err))
		}
	}

	return &Producer{client: client, topicMap: topicMap}, nil
}

// Publish produces payload to the logical topic's Kafka topic and waits
// for the broker acknowledgement. Trace context travels in record
// headers so the consumer can continue the trace.
func (p *Producer) Publish(ctx domain.Context, topic string, payload []byte) (err error) {
	defer func() { observability.RecordPublish(topic, err) }()

	kafkaTopic, ok := p.topicMap[topic]
	if !ok {
		return fmt.Errorf("op=kafka.Publish: %w: no topic configured for %q", domain.ErrInvalidArgument, topic)
	}

	messageID := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
	record := &kgo.Record{
		Topic: kafkaTopic,
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: HeaderMessageID, Value: []byte(messageID)},
		},
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		slog.Error("failed to produce message",
			slog.String("topic", topic),
			slog.String("kafka_topic", kafkaTopic),
			slog.Any("error", err))
		return fmt.Errorf("op=kafka.Publish: %w", err)
	}

	slog.Debug("published message",
		slog.String("topic", topic),
		slog.String("message_id", messageID))
	return nil
}

// Ping checks broker reachability, used by readiness probes.
func (p *Producer) Ping(ctx context.Context) error {
	if p.client == nil {
		return fmt.Errorf("op=kafka.Ping: %w: client not connected", domain.ErrUnavailable)
	}
	return p.client.Ping(ctx)
}

// Close flushes buffered records and closes the client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
