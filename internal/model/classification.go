package model

import "time"

// ResultStatus describes where a session is in processing.
type ResultStatus string

// Result status constants.
const (
	StatusProcessing ResultStatus = "processing"
	StatusCompleted  ResultStatus = "completed"
	StatusFailed     ResultStatus = "failed"
	StatusNotFound   ResultStatus = "not_found"
)

// QualityLabel is one of the four consultation outcomes.
type QualityLabel string

// Quality label constants.
const (
	LabelSatisfied     QualityLabel = "satisfied"
	LabelInadequate    QualityLabel = "inadequate"
	LabelUnresolved    QualityLabel = "unresolved"
	LabelNeedsFollowUp QualityLabel = "needs-follow-up"
)

// DefaultQualityLabels is the label space used when none is configured.
var DefaultQualityLabels = []QualityLabel{
	LabelSatisfied,
	LabelInadequate,
	LabelUnresolved,
	LabelNeedsFollowUp,
}

// PredictionResult is the persisted outcome for one session.
type PredictionResult struct {
	ProcessedAt    time.Time          `json:"processed_at"`
	Features       map[string]float64 `json:"features,omitempty"`
	SessionID      string             `json:"session_id"`
	PredictedLabel string             `json:"predicted_label,omitempty"`
	Status         ResultStatus       `json:"status"`
	Error          string             `json:"error,omitempty"`
	ModelVersion   string             `json:"model_version,omitempty"`
	Confidence     float64            `json:"confidence,omitempty"`
}

// CompletionState is a node of the session completion state machine.
type CompletionState string

// Completion states.
const (
	CompletionEmpty     CompletionState = "empty"
	CompletionPartial   CompletionState = "partial"
	CompletionComplete  CompletionState = "complete"
	CompletionProcessed CompletionState = "processed"
)

// SessionCompletionState tracks which task types have arrived for a session.
type SessionCompletionState struct {
	UpdatedAt time.Time
	Received  TaskSet
	SessionID string
	State     CompletionState
	LastError string
	Runs      int
	Armed     bool
}
