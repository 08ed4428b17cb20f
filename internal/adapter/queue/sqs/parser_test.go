package sqs

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wrappedBody(t *testing.T, inner string, attrs map[string]snsAttributeValue) string {
	t.Helper()
	env := map[string]any{"Type": "Notification", "Message": inner}
	if attrs != nil {
		env["MessageAttributes"] = attrs
	}
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return string(b)
}

func TestParser_WrappedDelivery(t *testing.T) {
	t.Parallel()
	body := wrappedBody(t, `{"request_id":"r-1","topic_name":"inference"}`, map[string]snsAttributeValue{
		"traceparent": {Type: "String", Value: "00-abc-def-01"},
	})

	parsed := Parser{}.ParseMessages([]types.Message{{
		MessageId:     aws.String("m-1"),
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String(body),
	}})

	require.Len(t, parsed, 1)
	assert.Equal(t, "m-1", parsed[0].MessageID)
	assert.Equal(t, "rh-1", parsed[0].ReceiptHandle)
	assert.JSONEq(t, `{"request_id":"r-1","topic_name":"inference"}`, string(parsed[0].Contents))
	assert.Equal(t, "00-abc-def-01", parsed[0].Attributes["traceparent"])
}

func TestParser_DirectDelivery(t *testing.T) {
	t.Parallel()
	parsed := Parser{}.ParseMessages([]types.Message{{
		MessageId:     aws.String("m-2"),
		ReceiptHandle: aws.String("rh-2"),
		Body:          aws.String(`{"request_id":"r-2","topic_name":"judge"}`),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"traceparent": {DataType: aws.String("String"), StringValue: aws.String("00-xyz-uvw-01")},
		},
	}})

	require.Len(t, parsed, 1)
	assert.JSONEq(t, `{"request_id":"r-2","topic_name":"judge"}`, string(parsed[0].Contents))
	assert.Equal(t, "00-xyz-uvw-01", parsed[0].Attributes["traceparent"])
}

func TestParser_SkipsMalformedKeepsRest(t *testing.T) {
	t.Parallel()
	batch := []types.Message{
		{MessageId: aws.String("missing-body"), ReceiptHandle: aws.String("rh-a")},
		{MessageId: aws.String("bad-json"), ReceiptHandle: aws.String("rh-b"), Body: aws.String(`{not json`)},
		{
			MessageId:     aws.String("inner-not-json"),
			ReceiptHandle: aws.String("rh-c"),
			Body:          aws.String(wrappedBody(t, `plain text, not JSON`, nil)),
		},
		{
			MessageId:     aws.String("good"),
			ReceiptHandle: aws.String("rh-d"),
			Body:          aws.String(wrappedBody(t, `{"request_id":"r-3"}`, nil)),
		},
	}

	parsed := Parser{}.ParseMessages(batch)

	require.Len(t, parsed, 1)
	assert.Equal(t, "good", parsed[0].MessageID)
}

func TestParser_EmptyBatch(t *testing.T) {
	t.Parallel()
	assert.Empty(t, Parser{}.ParseMessages(nil))
}
