package model

import (
	"bytes"
	"encoding/json"
)

// InstructionBlock groups the merged items for one tuning type.
type InstructionBlock struct {
	TuningType TaskType          `json:"tuning_type"`
	Data       []InstructionItem `json:"data"`
}

// MergedEntry is one distinct transcript within a merged session.
type MergedEntry struct {
	Metadata          map[string]any
	ConsultingContent string
	Instructions      []InstructionBlock
}

// Items returns every instruction item of the entry in order.
func (e MergedEntry) Items() []InstructionItem {
	var items []InstructionItem
	for _, block := range e.Instructions {
		items = append(items, block.Data...)
	}
	return items
}

// MarshalJSON flattens the metadata next to the content and instructions.
func (e MergedEntry) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		obj[k] = v
	}
	obj[KeyContent] = e.ConsultingContent
	instructions := e.Instructions
	if instructions == nil {
		instructions = []InstructionBlock{}
	}
	obj[KeyInstructions] = instructions
	return marshalNoEscape(obj)
}

// MergedSession is the coalesced record for one session and one task type.
type MergedSession struct {
	SessionID string
	TaskType  TaskType
	Entries   []MergedEntry
}

// Transcript returns the transcript of the first entry.
func (m MergedSession) Transcript() string {
	if len(m.Entries) == 0 {
		return ""
	}
	return m.Entries[0].ConsultingContent
}

// MarshalJSON renders {"session_id": ..., "<task_type>": [entries]}.
func (m MergedSession) MarshalJSON() ([]byte, error) {
	entries := m.Entries
	if entries == nil {
		entries = []MergedEntry{}
	}
	return marshalNoEscape(map[string]any{
		KeySessionID:       m.SessionID,
		string(m.TaskType): entries,
	})
}

// SessionRecord integrates every merged task type of one session.
type SessionRecord struct {
	Tasks     map[TaskType]MergedSession
	SessionID string
}

// Received returns the task types present in the record.
func (r SessionRecord) Received() TaskSet {
	s := make(TaskSet, len(r.Tasks))
	for t := range r.Tasks {
		s[t] = struct{}{}
	}
	return s
}

// Primary returns the merged session whose transcript drives feature extraction,
// preferring classification, then summary, then qa.
func (r SessionRecord) Primary() (MergedSession, bool) {
	for _, t := range AllTaskTypes {
		if m, ok := r.Tasks[t]; ok && len(m.Entries) > 0 {
			return m, true
		}
	}
	return MergedSession{}, false
}

// MarshalJSON renders the integrated record.
func (r SessionRecord) MarshalJSON() ([]byte, error) {
	obj := map[string]any{KeySessionID: r.SessionID}
	for t, m := range r.Tasks {
		entries := m.Entries
		if entries == nil {
			entries = []MergedEntry{}
		}
		obj[string(t)] = entries
	}
	return marshalNoEscape(obj)
}

// marshalNoEscape keeps Hangul and '<' readable in written artifacts.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
