package sqs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/modelarena/llm-evaluator/internal/adapter/observability"
	"github.com/modelarena/llm-evaluator/internal/domain"
)

// SNSAPI is the subset of the SNS SDK the publisher uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher fans payloads out through SNS topics. Each logical topic
// maps to a topic ARN; subscribed queues receive the payload wrapped in
// the SNS envelope the Parser unwraps on the consuming side.
type Publisher struct {
	api       SNSAPI
	topicARNs map[string]string
}

// NewPublisher constructs a Publisher over a logical-topic to ARN map.
func NewPublisher(api SNSAPI, topicARNs map[string]string) *Publisher {
	return &Publisher{api: api, topicARNs: topicARNs}
}

// Publish sends payload to the topic's ARN and returns once SNS has
// accepted it. The current trace context rides along as message
// attributes so consumers can continue the trace.
func (p *Publisher) Publish(ctx domain.Context, topic string, payload []byte) (err error) {
	defer func() { observability.RecordPublish(topic, err) }()

	arn, ok := p.topicARNs[topic]
	if !ok {
		return fmt.Errorf("op=sns.Publish: %w: no topic ARN configured for %q", domain.ErrInvalidArgument, topic)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	attrs := make(map[string]snstypes.MessageAttributeValue, len(carrier))
	for k, v := range carrier {
		attrs[k] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	out, err := p.api.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(arn),
		Message:           aws.String(string(payload)),
		MessageAttributes: attrs,
	})
	if err != nil {
		slog.Error("failed to publish message",
			slog.String("topic", topic),
			slog.Any("error", err))
		return fmt.Errorf("op=sns.Publish: %w", err)
	}

	slog.Debug("published message",
		slog.String("topic", topic),
		slog.String("sns_message_id", aws.ToString(out.MessageId)))
	return nil
}

// Close is a no-op; the SNS client holds no connections to drain.
func (p *Publisher) Close() error { return nil }
