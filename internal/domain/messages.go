package domain

import "encoding/json"

// Logical topic names carried inside every payload. The broker adapters
// map them to backend destinations (SNS topic ARN, Kafka topic).
const (
	TopicInference = "inference"
	TopicJudge     = "judge"
)

// Message is a broker-agnostic parsed message as seen by handlers.
// Backend identifiers (receipt handle, offset) never appear here; the
// consumer's finalizer owns them.
type Message struct {
	ID         string
	Contents   []byte
	Attributes map[string]string
}

// Handler processes one parsed message. A nil return finalizes the
// message; an error leaves it for broker redelivery.
type Handler interface {
	Handle(ctx Context, msg Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx Context, msg Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx Context, msg Message) error { return f(ctx, msg) }

// Publisher synchronously publishes a payload to a logical topic. It
// returns only once the broker has durably accepted the message.
type Publisher interface {
	Publish(ctx Context, topic string, payload []byte) error
	Close() error
}

// Consumer runs until Close, feeding messages to its handler with
// at-least-once semantics.
type Consumer interface {
	Start(ctx Context) error
	Close() error
}

// InferenceMessage asks the inference worker to run the target model.
// Payloads are self-contained: a worker never needs to read state
// before processing.
type InferenceMessage struct {
	RequestID      string         `json:"request_id"`
	TopicName      string         `json:"topic_name"`
	GatewayRequest GatewayRequest `json:"gateway_request"`
}

// NewInferenceMessage builds an InferenceMessage for a submission.
func NewInferenceMessage(requestID string, req GatewayRequest) InferenceMessage {
	return InferenceMessage{RequestID: requestID, TopicName: TopicInference, GatewayRequest: req}
}

// JudgeMessage asks the judge worker to score an inference result.
type JudgeMessage struct {
	RequestID       string          `json:"request_id"`
	TopicName       string          `json:"topic_name"`
	GatewayRequest  GatewayRequest  `json:"gateway_request"`
	InferenceResult InferenceResult `json:"inference_result"`
}

// NewJudgeMessage builds a JudgeMessage carrying the original request
// and the inference outcome.
func NewJudgeMessage(requestID string, req GatewayRequest, res InferenceResult) JudgeMessage {
	return JudgeMessage{RequestID: requestID, TopicName: TopicJudge, GatewayRequest: req, InferenceResult: res}
}

// OriginalPrompt returns the submitted prompt.
func (m JudgeMessage) OriginalPrompt() string { return m.GatewayRequest.Prompt }

// InferenceResponse returns the target model's response text.
func (m JudgeMessage) InferenceResponse() string { return m.InferenceResult.Response }

// JudgeModelIdentifier returns the judge model as name:version.
func (m JudgeMessage) JudgeModelIdentifier() string {
	return m.GatewayRequest.JudgeModel.Identifier()
}

// Marshal serializes m for publishing.
func (m InferenceMessage) Marshal() ([]byte, error) { return json.Marshal(m) }

// Marshal serializes m for publishing.
func (m JudgeMessage) Marshal() ([]byte, error) { return json.Marshal(m) }
