package domain

import "time"

// Archive statuses. Only terminal stages reach the archive.
const (
	HistoryStatusCompleted = string(StageCompleted)
	HistoryStatusFailed    = string(StageFailed)
)

// HistoryRow is the flattened durable record written once per request
// at a terminal stage. request_id is unique in the archive.
type HistoryRow struct {
	RequestID          string             `json:"request_id"`
	Prompt             string             `json:"prompt"`
	TargetModel        string             `json:"target_model"`
	JudgeModel         string             `json:"judge_model"`
	InferenceResponse  *string            `json:"inference_response,omitempty"`
	InferenceLatencyMS *float64           `json:"inference_latency_ms,omitempty"`
	InferenceTokens    *int               `json:"inference_tokens,omitempty"`
	JudgeScore         *float64           `json:"judge_score,omitempty"`
	JudgeReasoning     *string            `json:"judge_reasoning,omitempty"`
	JudgeCategories    map[string]float64 `json:"judge_categories,omitempty"`
	JudgeLatencyMS     *float64           `json:"judge_latency_ms,omitempty"`
	Status             string             `json:"status"`
	ErrorMessage       *string            `json:"error_message,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	CompletedAt        time.Time          `json:"completed_at"`
}

// ToHistoryRow flattens the state record into its archive form.
// completed_at is stamped at flatten time, matching the moment the
// terminal stage is archived.
func (p ProcessedRequest) ToHistoryRow() HistoryRow {
	row := HistoryRow{
		RequestID:   p.RequestID,
		Prompt:      p.Prompt(),
		TargetModel: p.TargetModelName(),
		JudgeModel:  p.JudgeModelIdentifier(),
		Status:      string(p.Stage),
		CreatedAt:   p.CreatedAt,
		CompletedAt: Now(),
	}
	if p.ErrorMessage != "" {
		row.ErrorMessage = StrPtr(p.ErrorMessage)
	}
	if ir := p.InferenceResult; ir != nil {
		row.InferenceResponse = StrPtr(ir.Response)
		lat := ir.LatencyMS
		row.InferenceLatencyMS = &lat
		row.InferenceTokens = ir.TotalTokens
	}
	if jr := p.JudgeResult; jr != nil {
		score := jr.Score
		lat := jr.LatencyMS
		row.JudgeScore = &score
		row.JudgeReasoning = StrPtr(jr.Reasoning)
		row.JudgeCategories = jr.Categories
		row.JudgeLatencyMS = &lat
	}
	return row
}
