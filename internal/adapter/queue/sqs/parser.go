package sqs

import (
	"encoding/json"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// ParsedMessage is one decoded queue message. ReceiptHandle stays
// inside this package; handlers only ever see the broker-agnostic
// domain.Message built from it.
type ParsedMessage struct {
	MessageID     string
	ReceiptHandle string
	Contents      []byte
	Attributes    map[string]string
}

// snsEnvelope is the wrapper SNS puts around fan-out deliveries: the
// queue body is JSON whose Message field is the inner payload, itself
// a JSON string.
type snsEnvelope struct {
	Message           *string                      `json:"Message"`
	MessageAttributes map[string]snsAttributeValue `json:"MessageAttributes"`
}

type snsAttributeValue struct {
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

// Parser decodes raw SQS batches, tolerating individual bad messages.
type Parser struct{}

// ParseMessages decodes a batch. Bodies may be SNS-wrapped or direct
// JSON. Malformed messages are skipped with a warning; a batch never
// aborts on one bad item.
func (Parser) ParseMessages(messages []types.Message) []ParsedMessage {
	parsed := make([]ParsedMessage, 0, len(messages))

	for _, msg := range messages {
		if msg.Body == nil {
			slog.Warn("skipping queue message: body is missing",
				slog.String("message_id", aws.ToString(msg.MessageId)))
			continue
		}

		var env snsEnvelope
		if err := json.Unmarshal([]byte(*msg.Body), &env); err != nil {
			slog.Warn("skipping queue message due to JSON decode error",
				slog.String("message_id", aws.ToString(msg.MessageId)),
				slog.Any("error", err))
			continue
		}

		var contents []byte
		var attrs map[string]string
		if env.Message != nil {
			// Wrapped delivery: the inner Message string must itself be
			// valid JSON.
			if !json.Valid([]byte(*env.Message)) {
				slog.Warn("skipping queue message: inner payload is not valid JSON",
					slog.String("message_id", aws.ToString(msg.MessageId)))
				continue
			}
			contents = []byte(*env.Message)
			attrs = flattenSNSAttributes(env.MessageAttributes)
		} else {
			contents = []byte(*msg.Body)
			attrs = flattenSQSAttributes(msg.MessageAttributes)
		}

		parsed = append(parsed, ParsedMessage{
			MessageID:     aws.ToString(msg.MessageId),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
			Contents:      contents,
			Attributes:    attrs,
		})
	}

	return parsed
}

func flattenSNSAttributes(in map[string]snsAttributeValue) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v.Value
	}
	return out
}

func flattenSQSAttributes(in map[string]types.MessageAttributeValue) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = aws.ToString(v.StringValue)
	}
	return out
}
