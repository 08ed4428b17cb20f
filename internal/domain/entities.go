// Package domain holds the pipeline entities and the ports implemented
// by the adapters (state store, archive, broker, model providers).
package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnavailable     = errors.New("unavailable")
	ErrUpstream        = errors.New("upstream error")
	ErrInternal        = errors.New("internal error")
)

//go:generate mockery --name=StateRepository --with-expecter --filename=state_repository_mock.go
//go:generate mockery --name=ArchiveGateway --with-expecter --filename=archive_gateway_mock.go
//go:generate mockery --name=JudgeGateway --with-expecter --filename=judge_gateway_mock.go
//go:generate mockery --name=Publisher --with-expecter --filename=publisher_mock.go
//go:generate mockery --name=Provider --with-expecter --filename=provider_mock.go

// Stage is the coarse phase of a request's lifecycle. Transitions are
// monotonic; Completed and Failed are terminal.
type Stage string

const (
	StageGateway   Stage = "Gateway"
	StageInference Stage = "Inference"
	StageJudge     Stage = "Judge"
	StageCompleted Stage = "Completed"
	StageFailed    Stage = "Failed"
)

var stageRank = map[Stage]int{
	StageGateway:   0,
	StageInference: 1,
	StageJudge:     2,
	StageCompleted: 3,
	StageFailed:    3,
}

// Valid reports whether s is one of the five known stages.
func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Terminal reports whether s is Completed or Failed.
func (s Stage) Terminal() bool { return s == StageCompleted || s == StageFailed }

// CanTransitionTo reports whether moving from s to next keeps the stage
// machine monotonic. Failed is reachable from any non-terminal stage.
func (s Stage) CanTransitionTo(next Stage) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	return stageRank[next] > stageRank[s]
}

// Secret is an opaque credential. It travels in broker payloads because
// downstream workers need it, but must never reach logs; both String
// and LogValue redact it.
type Secret string

func (s Secret) String() string { return "[redacted]" }

// LogValue implements slog.LogValuer so structured logs never carry the
// raw value even when the field is logged wholesale.
func (s Secret) LogValue() slog.Value { return slog.StringValue("[redacted]") }

// Reveal returns the raw credential for provider calls.
func (s Secret) Reveal() string { return string(s) }

// ModelRef names a target model by its logical name.
type ModelRef struct {
	Name string `json:"name" validate:"required"`
}

// JudgeModelRef names the judge model and version.
type JudgeModelRef struct {
	Name    string `json:"name" validate:"required"`
	Version string `json:"version" validate:"required"`
}

// Identifier renders the judge model as name:version (e.g. qwen2.5:latest).
func (j JudgeModelRef) Identifier() string {
	return fmt.Sprintf("%s:%s", j.Name, j.Version)
}

// GatewayRequest is the immutable submission payload.
type GatewayRequest struct {
	Prompt      string        `json:"prompt" validate:"required"`
	TargetModel ModelRef      `json:"target_model" validate:"required"`
	JudgeModel  JudgeModelRef `json:"judge_model" validate:"required"`
	APIKey      Secret        `json:"api_key" validate:"required"`
}

// InferenceResult is the single target-model invocation outcome. Token
// counts are optional because not every provider reports usage.
type InferenceResult struct {
	Response         string  `json:"response"`
	Model            string  `json:"model"`
	LatencyMS        float64 `json:"latency_ms"`
	PromptTokens     *int    `json:"prompt_tokens,omitempty"`
	CompletionTokens *int    `json:"completion_tokens,omitempty"`
	TotalTokens      *int    `json:"total_tokens,omitempty"`
}

// JudgeResult is the judge model's scoring of an inference response.
type JudgeResult struct {
	Score      float64            `json:"score"`
	Reasoning  string             `json:"reasoning"`
	Categories map[string]float64 `json:"categories"`
	Model      string             `json:"model"`
	LatencyMS  float64            `json:"latency_ms"`
}

// ProcessedRequest is the per-request state record kept in the
// ephemeral store for the lifetime of the request.
type ProcessedRequest struct {
	RequestID       string           `json:"request_id"`
	GatewayRequest  GatewayRequest   `json:"gateway_request"`
	Stage           Stage            `json:"stage"`
	InferenceResult *InferenceResult `json:"inference_result,omitempty"`
	JudgeResult     *JudgeResult     `json:"judge_result,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewProcessedRequest builds the initial Gateway-stage record.
// Timestamps are truncated to millisecond precision so records survive
// a JSON round trip unchanged.
func NewProcessedRequest(requestID string, req GatewayRequest) ProcessedRequest {
	now := Now()
	return ProcessedRequest{
		RequestID:      requestID,
		GatewayRequest: req,
		Stage:          StageGateway,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Now returns the current UTC time at millisecond precision.
func Now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

// Prompt returns the submitted prompt.
func (p ProcessedRequest) Prompt() string { return p.GatewayRequest.Prompt }

// TargetModelName returns the logical target model name.
func (p ProcessedRequest) TargetModelName() string { return p.GatewayRequest.TargetModel.Name }

// JudgeModelIdentifier returns the judge model as name:version.
func (p ProcessedRequest) JudgeModelIdentifier() string {
	return p.GatewayRequest.JudgeModel.Identifier()
}

// StateUpdate is a shallow-merge partial applied to a state record.
// Nil fields are left untouched.
type StateUpdate struct {
	Stage           *Stage
	InferenceResult *InferenceResult
	JudgeResult     *JudgeResult
	ErrorMessage    *string
}

// Apply merges u into p, refreshes updated_at, and enforces stage
// monotonicity: a stage change that would regress the machine (or leave
// a terminal stage) is dropped while the rest of the merge applies.
func (u StateUpdate) Apply(p ProcessedRequest) ProcessedRequest {
	if u.Stage != nil && p.Stage.CanTransitionTo(*u.Stage) {
		p.Stage = *u.Stage
	}
	if u.InferenceResult != nil {
		p.InferenceResult = u.InferenceResult
	}
	if u.JudgeResult != nil {
		p.JudgeResult = u.JudgeResult
	}
	if u.ErrorMessage != nil {
		p.ErrorMessage = *u.ErrorMessage
	}
	p.UpdatedAt = Now()
	return p
}

// StagePtr is a convenience for building StateUpdates.
func StagePtr(s Stage) *Stage { return &s }

// StrPtr is a convenience for building StateUpdates.
func StrPtr(s string) *string { return &s }

// IntPtr is a convenience for optional token counts.
func IntPtr(i int) *int { return &i }

// Repositories and gateways (ports)

// StateRepository is the ephemeral per-request coordination store.
// Updates are last-write-wins; the pipeline is effectively
// single-writer per stage under at-least-once delivery.
type StateRepository interface {
	Create(ctx Context, req ProcessedRequest) (ProcessedRequest, error)
	Get(ctx Context, requestID string) (ProcessedRequest, error)
	Update(ctx Context, requestID string, upd StateUpdate) (ProcessedRequest, error)
	Delete(ctx Context, requestID string) (bool, error)
	IsHealthy(ctx Context) bool
}

// ArchiveGateway is the durable record of truth, written once per
// request at a terminal stage.
type ArchiveGateway interface {
	CreateHistory(ctx Context, row HistoryRow) (HistoryRow, error)
	ListHistory(ctx Context, limit, offset int, status string) ([]HistoryRow, error)
	GetHistory(ctx Context, requestID string) (HistoryRow, error)
	IsHealthy(ctx Context) bool
}

// JudgeGateway scores a model response against the original prompt.
type JudgeGateway interface {
	Judge(ctx Context, originalPrompt, modelResponse, model string) (JudgeResult, error)
	IsHealthy(ctx Context) bool
}

// Provider is a single target-model client bound to an API key.
type Provider interface {
	Generate(ctx Context, prompt string, cfg InferenceConfig) (InferenceResult, error)
}

// InferenceConfig selects the concrete model for a Generate call.
type InferenceConfig struct {
	Model string
}

// ProviderFactory maps logical model names to provider clients.
// Providers are created per request because each submission carries its
// own API key.
type ProviderFactory interface {
	CreateProvider(logicalName, apiKey string) (Provider, error)
	ResolveModelName(logicalName string) string
}

// Context is an alias to decouple domain signatures from std context.
type Context = context.Context
