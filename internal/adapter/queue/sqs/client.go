// Package sqs implements the cloud broker backend: an SNS publisher
// paired with an at-least-once SQS consumer (long-poller, visibility
// extender, bounded dispatcher, receipt-handle finalizer).
package sqs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// API is the subset of the SQS SDK the consumer runtime uses. Tests
// substitute a fake.
type API interface {
	ReceiveMessage(ctx context.Context, params *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *awssqs.DeleteMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *awssqs.ChangeMessageVisibilityInput, optFns ...func(*awssqs.Options)) (*awssqs.ChangeMessageVisibilityOutput, error)
}

// Client wraps the SQS SDK for one queue with the pipeline's receive,
// delete, and visibility operations.
type Client struct {
	api               API
	queueURL          string
	visibilityTimeout time.Duration
	waitTime          time.Duration
}

// NewClient constructs a Client for a queue URL.
func NewClient(api API, queueURL string, visibilityTimeout, waitTime time.Duration) *Client {
	return &Client{api: api, queueURL: queueURL, visibilityTimeout: visibilityTimeout, waitTime: waitTime}
}

// Receive long-polls the queue once and returns the raw batch.
func (c *Client) Receive(ctx context.Context) ([]types.Message, error) {
	out, err := c.api.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.queueURL),
		MaxNumberOfMessages:   10,
		WaitTimeSeconds:       int32(c.waitTime.Seconds()),
		VisibilityTimeout:     int32(c.visibilityTimeout.Seconds()),
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		slog.Error("failed to receive messages from queue",
			slog.String("queue_url", c.queueURL),
			slog.Any("error", err))
		return nil, fmt.Errorf("op=sqs.Receive: %w", err)
	}
	return out.Messages, nil
}

// Delete removes a finalized message from the queue.
func (c *Client) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.api.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		slog.Error("failed to delete message from queue",
			slog.String("queue_url", c.queueURL),
			slog.Any("error", err))
		return fmt.Errorf("op=sqs.Delete: %w", err)
	}
	return nil
}

// ChangeVisibility resets a message's visibility expiry to the
// configured timeout from now.
func (c *Client) ChangeVisibility(ctx context.Context, receiptHandle string) error {
	_, err := c.api.ChangeMessageVisibility(ctx, &awssqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: int32(c.visibilityTimeout.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("op=sqs.ChangeVisibility: %w", err)
	}
	return nil
}
