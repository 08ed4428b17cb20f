// Package queue selects the broker backend at process start. Both
// backends satisfy the same domain.Publisher and domain.Consumer
// contracts, so everything above this package is broker-agnostic.
package queue

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/modelarena/llm-evaluator/internal/adapter/queue/kafka"
	"github.com/modelarena/llm-evaluator/internal/adapter/queue/shared"
	"github.com/modelarena/llm-evaluator/internal/adapter/queue/sqs"
	"github.com/modelarena/llm-evaluator/internal/config"
	"github.com/modelarena/llm-evaluator/internal/domain"
)

// NewPublisher builds the publisher for the configured broker.
func NewPublisher(ctx context.Context, cfg config.Config) (domain.Publisher, error) {
	topicMap, err := cfg.TopicMap()
	if err != nil {
		return nil, err
	}

	switch cfg.Broker {
	case config.BrokerSQS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("op=queue.NewPublisher: %w", err)
		}
		return sqs.NewPublisher(sns.NewFromConfig(awsCfg), topicMap), nil
	case config.BrokerKafka:
		producer, err := kafka.NewProducer(ctx, cfg.KafkaBrokers, topicMap)
		if err != nil {
			return nil, err
		}
		return producer, nil
	}
	return nil, fmt.Errorf("op=queue.NewPublisher: %w: unknown broker %q", domain.ErrInvalidArgument, cfg.Broker)
}

// NewConsumer builds the consumer for one logical topic on the
// configured broker, wiring the handler through a bounded dispatcher.
func NewConsumer(ctx context.Context, cfg config.Config, topic string, handler domain.Handler) (domain.Consumer, error) {
	dispatcher := shared.NewDispatcher(handler, topic, cfg.MaxWorkerCount, cfg.ShutdownTimeout)

	switch cfg.Broker {
	case config.BrokerSQS:
		queueURL := cfg.QueueURL(topic)
		if queueURL == "" {
			return nil, fmt.Errorf("op=queue.NewConsumer: %w: no queue URL configured for topic %q", domain.ErrInvalidArgument, topic)
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("op=queue.NewConsumer: %w", err)
		}
		client := sqs.NewClient(awssqs.NewFromConfig(awsCfg), queueURL, cfg.VisibilityTimeout, cfg.WaitTime)
		poller := sqs.NewPoller(client, cfg.ReceiveAttemptDelay)
		extender := sqs.NewExtender(client, cfg.ExtensionInterval, cfg.MaxProcessingTime, cfg.ShutdownTimeout)
		return sqs.NewConsumer(topic, client, poller, extender, dispatcher), nil
	case config.BrokerKafka:
		topicMap, err := cfg.TopicMap()
		if err != nil {
			return nil, err
		}
		kafkaTopic, ok := topicMap[topic]
		if !ok || kafkaTopic == "" {
			return nil, fmt.Errorf("op=queue.NewConsumer: %w: no kafka topic configured for %q", domain.ErrInvalidArgument, topic)
		}
		groupID := cfg.KafkaGroupID + "-" + topic
		consumer, err := kafka.NewConsumer(topic, kafkaTopic, groupID, cfg.KafkaBrokers, dispatcher)
		if err != nil {
			return nil, err
		}
		return consumer, nil
	}
	return nil, fmt.Errorf("op=queue.NewConsumer: %w: unknown broker %q", domain.ErrInvalidArgument, cfg.Broker)
}
