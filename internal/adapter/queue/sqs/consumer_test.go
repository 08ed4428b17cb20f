package sqs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelarena/llm-evaluator/internal/adapter/queue/shared"
	"github.com/modelarena/llm-evaluator/internal/domain"
)

type fakeQueueAPI struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeQueueAPI) ReceiveMessage(context.Context, *awssqs.ReceiveMessageInput, ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error) {
	return &awssqs.ReceiveMessageOutput{}, nil
}

func (f *fakeQueueAPI) DeleteMessage(_ context.Context, params *awssqs.DeleteMessageInput, _ ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, *params.ReceiptHandle)
	return &awssqs.DeleteMessageOutput{}, nil
}

func (f *fakeQueueAPI) ChangeMessageVisibility(context.Context, *awssqs.ChangeMessageVisibilityInput, ...func(*awssqs.Options)) (*awssqs.ChangeMessageVisibilityOutput, error) {
	return &awssqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeQueueAPI) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func testConsumer(handler domain.Handler, api *fakeQueueAPI) (*Consumer, *Extender) {
	client := NewClient(api, "https://sqs.test/queue", 5*time.Minute, 20*time.Second)
	poller := NewPoller(client, time.Second)
	extender := NewExtender(client, 30*time.Second, 10*time.Minute, time.Second)
	dispatcher := shared.NewDispatcher(handler, "inference", 2, time.Second)
	return NewConsumer("inference", client, poller, extender, dispatcher), extender
}

func TestConsumer_SuccessDeletesAndUnregisters(t *testing.T) {
	t.Parallel()
	api := &fakeQueueAPI{}
	var gotContents atomic.Value
	handler := domain.HandlerFunc(func(_ domain.Context, msg domain.Message) error {
		gotContents.Store(string(msg.Contents))
		return nil
	})
	c, extender := testConsumer(handler, api)

	pm := ParsedMessage{MessageID: "m-1", ReceiptHandle: "rh-1", Contents: []byte(`{"request_id":"r-1"}`)}
	require.NoError(t, c.consumeOne(context.Background(), pm))

	require.Eventually(t, func() bool {
		return len(api.deletedHandles()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"rh-1"}, api.deletedHandles())
	assert.Equal(t, `{"request_id":"r-1"}`, gotContents.Load())
	assert.False(t, extender.Registered("m-1"))
}

func TestConsumer_FailureLeavesMessageForRedelivery(t *testing.T) {
	t.Parallel()
	api := &fakeQueueAPI{}
	handler := domain.HandlerFunc(func(domain.Context, domain.Message) error {
		return errors.New("provider unreachable")
	})
	c, extender := testConsumer(handler, api)

	pm := ParsedMessage{MessageID: "m-1", ReceiptHandle: "rh-1"}
	require.NoError(t, c.consumeOne(context.Background(), pm))

	require.Eventually(t, func() bool {
		return !extender.Registered("m-1")
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, api.deletedHandles(), "failed messages must not be deleted")
}

func TestConsumer_SkipsRedeliveredInFlightMessage(t *testing.T) {
	t.Parallel()
	api := &fakeQueueAPI{}
	var calls atomic.Int32
	handler := domain.HandlerFunc(func(domain.Context, domain.Message) error {
		calls.Add(1)
		return nil
	})
	c, extender := testConsumer(handler, api)

	require.NoError(t, extender.Register("m-1", "rh-original"))

	pm := ParsedMessage{MessageID: "m-1", ReceiptHandle: "rh-redelivered"}
	require.NoError(t, c.consumeOne(context.Background(), pm))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load(), "in-flight duplicate must not be dispatched")
	assert.True(t, extender.Registered("m-1"), "original registration must survive")
	assert.Empty(t, api.deletedHandles())
}

func TestConsumer_AcquireCancellationUnregisters(t *testing.T) {
	t.Parallel()
	api := &fakeQueueAPI{}
	block := make(chan struct{})
	handler := domain.HandlerFunc(func(domain.Context, domain.Message) error {
		<-block
		return nil
	})
	defer close(block)

	client := NewClient(api, "https://sqs.test/queue", 5*time.Minute, 20*time.Second)
	extender := NewExtender(client, 30*time.Second, 10*time.Minute, time.Second)
	dispatcher := shared.NewDispatcher(handler, "inference", 1, time.Second)
	c := NewConsumer("inference", client, NewPoller(client, time.Second), extender, dispatcher)

	// Occupy the only slot.
	require.NoError(t, c.consumeOne(context.Background(), ParsedMessage{MessageID: "m-1", ReceiptHandle: "rh-1"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.consumeOne(ctx, ParsedMessage{MessageID: "m-2", ReceiptHandle: "rh-2"})
	require.Error(t, err)
	assert.False(t, extender.Registered("m-2"), "registration must be rolled back when no slot was acquired")
}
