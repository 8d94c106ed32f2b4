// Package assembler merges partial per-file submissions into one record per
// session and task type, and integrates those records per session.
package assembler

import (
	"log/slog"
	"sort"

	"github.com/Veraticus/callscore/internal/jsontree"
	"github.com/Veraticus/callscore/internal/model"
)

// Assembler merges raw submissions. It holds no state between calls.
type Assembler struct {
	strip []string
}

// New creates an assembler that strips the given bookkeeping keys.
// A nil slice strips the default "input" key.
func New(stripFields []string) *Assembler {
	if stripFields == nil {
		stripFields = []string{model.KeyInput}
	}
	return &Assembler{strip: stripFields}
}

// Assemble merges with the default strip set.
func Assemble(raws []model.RawSubmission) []model.MergedSession {
	return New(nil).Assemble(raws)
}

type groupKey struct {
	sessionID string
	taskType  model.TaskType
}

// Assemble groups submissions by (session, task type), orders each group by
// arrival, sequence, then source, and coalesces identical transcripts into a
// single entry. The result is sorted by session id, then task type.
func (a *Assembler) Assemble(raws []model.RawSubmission) []model.MergedSession {
	groups := make(map[groupKey][]model.RawSubmission)
	for _, raw := range raws {
		if !raw.TaskType.Valid() {
			slog.Warn("dropping submission with unknown task type",
				"source", raw.Source,
				"task_type", raw.TaskType)
			continue
		}
		id := raw.SessionID
		if id == "" {
			id = model.UnknownSessionID
		}
		key := groupKey{sessionID: id, taskType: raw.TaskType}
		groups[key] = append(groups[key], raw)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].sessionID != keys[j].sessionID {
			return lessSessionID(keys[i].sessionID, keys[j].sessionID)
		}
		return keys[i].taskType.Order() < keys[j].taskType.Order()
	})

	merged := make([]model.MergedSession, 0, len(keys))
	for _, k := range keys {
		merged = append(merged, a.merge(k, groups[k]))
	}
	return merged
}

func (a *Assembler) merge(key groupKey, raws []model.RawSubmission) model.MergedSession {
	ordered := make([]model.RawSubmission, len(raws))
	copy(ordered, raws)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Arrival != ordered[j].Arrival {
			return ordered[i].Arrival < ordered[j].Arrival
		}
		if ordered[i].Sequence != ordered[j].Sequence {
			return ordered[i].Sequence < ordered[j].Sequence
		}
		return ordered[i].Source < ordered[j].Source
	})

	drop := append([]string{model.KeyInstructions, model.KeyContent}, a.strip...)

	var entries []model.MergedEntry
	byTranscript := make(map[string]int)
	for _, raw := range ordered {
		idx, seen := byTranscript[raw.TranscriptText]
		if !seen {
			idx = len(entries)
			byTranscript[raw.TranscriptText] = idx
			entries = append(entries, model.MergedEntry{
				Metadata:          jsontree.StripMap(raw.Metadata, drop...),
				ConsultingContent: raw.TranscriptText,
				Instructions: []model.InstructionBlock{{
					TuningType: key.taskType,
					Data:       []model.InstructionItem{},
				}},
			})
		}
		block := &entries[idx].Instructions[0]
		for _, item := range raw.Items {
			block.Data = append(block.Data, model.InstructionItem(jsontree.StripMap(item, a.strip...)))
		}
	}

	return model.MergedSession{
		SessionID: key.sessionID,
		TaskType:  key.taskType,
		Entries:   entries,
	}
}

// Integrate combines the merged task types of each session into one record.
// Sessions with the unknown id are undeliverable and skipped.
func Integrate(merged []model.MergedSession) []model.SessionRecord {
	bySession := make(map[string]*model.SessionRecord)
	var order []string
	for _, m := range merged {
		if m.SessionID == model.UnknownSessionID || m.SessionID == "" {
			slog.Warn("skipping undeliverable session", "task_type", m.TaskType)
			continue
		}
		rec, ok := bySession[m.SessionID]
		if !ok {
			rec = &model.SessionRecord{
				SessionID: m.SessionID,
				Tasks:     make(map[model.TaskType]model.MergedSession),
			}
			bySession[m.SessionID] = rec
			order = append(order, m.SessionID)
		}
		rec.Tasks[m.TaskType] = m
	}

	sort.Slice(order, func(i, j int) bool { return lessSessionID(order[i], order[j]) })
	records := make([]model.SessionRecord, 0, len(order))
	for _, id := range order {
		records = append(records, *bySession[id])
	}
	return records
}

// lessSessionID orders numeric ids numerically and everything else lexically.
func lessSessionID(a, b string) bool {
	an, bn := isDigits(a) && a != "", isDigits(b) && b != ""
	switch {
	case an && bn:
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	case an != bn:
		return an
	default:
		return a < b
	}
}
