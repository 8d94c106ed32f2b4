package model

import "encoding/json"

// Well-known submission keys.
const (
	KeySessionID    = "session_id"
	KeyContent      = "consulting_content"
	KeyInstructions = "instructions"
	KeyTuningType   = "tuning_type"
	KeyData         = "data"
	KeyCategory     = "task_category"
	KeyOutput       = "output"
	KeyInput        = "input"
)

// InstructionItem is one annotation object, typically {task_category, output}.
// Unknown keys are preserved so QA and summary payloads survive merging.
type InstructionItem map[string]any

// Category returns the task_category value.
func (i InstructionItem) Category() string {
	return stringValue(i[KeyCategory])
}

// Output returns the output value.
func (i InstructionItem) Output() string {
	return stringValue(i[KeyOutput])
}

// RawSubmission is a single partial annotation of a session for one task type.
type RawSubmission struct {
	Metadata       map[string]any
	SessionID      string
	TaskType       TaskType
	TranscriptText string
	Source         string
	Items          []InstructionItem
	Arrival        int64
	Sequence       int
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
