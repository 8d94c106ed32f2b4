package assembler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/jsontree"
	"github.com/Veraticus/callscore/internal/model"
)

var digitRun = regexp.MustCompile(`\d+`)

// Parser turns submission files into RawSubmissions.
type Parser struct {
	keywords []config.TaskKeywords
	strip    []string
}

// NewParser creates a parser from the assembly configuration.
func NewParser(cfg config.AssemblyConfig) *Parser {
	keywords := make([]config.TaskKeywords, 0, len(cfg.TaskKeywords))
	// Detection order follows the canonical task order, not config order.
	for _, t := range model.AllTaskTypes {
		for _, tk := range cfg.TaskKeywords {
			if tk.Type != t {
				continue
			}
			lowered := make([]string, len(tk.Keywords))
			for i, k := range tk.Keywords {
				lowered[i] = strings.ToLower(k)
			}
			keywords = append(keywords, config.TaskKeywords{Type: t, Keywords: lowered})
		}
	}
	return &Parser{keywords: keywords, strip: cfg.StripFields}
}

// DetectTaskType infers the task type from a file name by keyword containment.
func (p *Parser) DetectTaskType(name string) (model.TaskType, bool) {
	lower := strings.ToLower(filepath.Base(name))
	for _, tk := range p.keywords {
		for _, k := range tk.Keywords {
			if k != "" && strings.Contains(lower, k) {
				return tk.Type, true
			}
		}
	}
	return "", false
}

// ParseSessionID extracts the session id from a file name: the first
// all-digit underscore-separated part, else the first digit run.
func (p *Parser) ParseSessionID(name string) string {
	base := stem(name)
	for _, part := range strings.Split(base, "_") {
		if part != "" && isDigits(part) {
			return part
		}
	}
	if m := digitRun.FindString(base); m != "" {
		return m
	}
	return model.UnknownSessionID
}

// ParseSequence extracts the ordering suffix from a file name.
func (p *Parser) ParseSequence(name string) int {
	nums := digitRun.FindAllString(stem(name), -1)
	if len(nums) == 0 {
		return 0
	}
	// Overlong runs fall back to 0 rather than failing the file.
	n, err := strconv.Atoi(nums[len(nums)-1])
	if err != nil {
		return 0
	}
	return n
}

// Parse decodes one submission file. The file name supplies defaults for the
// session id and task type; values in the content win for the session id.
func (p *Parser) Parse(name string, data []byte) (model.RawSubmission, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return model.RawSubmission{}, fmt.Errorf("%w: %s: %v", common.ErrMalformedSubmission, name, err)
	}

	taskType, ok := p.DetectTaskType(name)
	if !ok {
		taskType, ok = p.contentTaskType(obj)
	}
	if !ok {
		return model.RawSubmission{}, fmt.Errorf("%w: %s", common.ErrUnknownTaskType, name)
	}

	sessionID := scalarString(obj[model.KeySessionID])
	if sessionID == "" {
		sessionID = p.ParseSessionID(name)
	}

	transcript, _ := obj[model.KeyContent].(string)

	items, err := p.items(obj[model.KeyInstructions])
	if err != nil {
		return model.RawSubmission{}, fmt.Errorf("%w: %s: %v", common.ErrMalformedSubmission, name, err)
	}

	metadata := jsontree.StripMap(obj, append([]string{model.KeyInstructions, model.KeyContent}, p.strip...)...)

	return model.RawSubmission{
		Metadata:       metadata,
		SessionID:      sessionID,
		TaskType:       taskType,
		TranscriptText: transcript,
		Source:         filepath.Base(name),
		Items:          items,
		Sequence:       p.ParseSequence(name),
	}, nil
}

// ParseDocument decodes a combined document whose instructions are
// {tuning_type, data} blocks of several task types, returning one submission
// per task type in canonical order. Documents without typed blocks are parsed
// as a single submission. sessionID, when non-empty, overrides any id in the
// content.
func (p *Parser) ParseDocument(name string, data []byte, sessionID string) ([]model.RawSubmission, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrMalformedSubmission, name, err)
	}

	byType := make(map[model.TaskType][]any)
	var untyped []any
	if list, ok := obj[model.KeyInstructions].([]any); ok {
		for _, elem := range list {
			block, _ := elem.(map[string]any)
			s, _ := block[model.KeyTuningType].(string)
			if t, ok := p.tuningType(s); ok {
				byType[t] = append(byType[t], elem)
				continue
			}
			untyped = append(untyped, elem)
		}
	}

	if len(byType) == 0 {
		raw, err := p.Parse(name, data)
		if err != nil {
			return nil, err
		}
		if sessionID != "" {
			raw.SessionID = sessionID
		}
		return []model.RawSubmission{raw}, nil
	}
	if len(untyped) > 0 {
		slog.Warn("dropping instructions without a tuning type",
			"source", filepath.Base(name),
			"count", len(untyped))
	}

	if sessionID == "" {
		sessionID = scalarString(obj[model.KeySessionID])
	}
	if sessionID == "" {
		sessionID = p.ParseSessionID(name)
	}
	transcript, _ := obj[model.KeyContent].(string)
	metadata := jsontree.StripMap(obj, append([]string{model.KeyInstructions, model.KeyContent}, p.strip...)...)

	var out []model.RawSubmission
	for _, t := range model.AllTaskTypes {
		blocks, ok := byType[t]
		if !ok {
			continue
		}
		items, err := p.items(blocks)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", common.ErrMalformedSubmission, name, err)
		}
		out = append(out, model.RawSubmission{
			Metadata:       jsontree.StripMap(metadata),
			SessionID:      sessionID,
			TaskType:       t,
			TranscriptText: transcript,
			Source:         filepath.Base(name),
			Items:          items,
			Sequence:       p.ParseSequence(name),
		})
	}
	return out, nil
}

// LoadDir parses every *.json file in dir. Files that cannot be parsed are
// skipped and reported in the returned error slice.
func (p *Parser) LoadDir(dir string) ([]model.RawSubmission, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("failed to read directory %s: %w", dir, err)}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var (
		raws []model.RawSubmission
		errs []error
	)
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path) //nolint:gosec // path comes from the listed directory
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read %s: %w", path, err))
			slog.Warn("skipping unreadable submission", "file", path, "error", err)
			continue
		}
		raw, err := p.Parse(name, data)
		if err != nil {
			errs = append(errs, err)
			slog.Warn("skipping submission", "file", path, "error", err)
			continue
		}
		raws = append(raws, raw)
	}
	return raws, errs
}

// items accepts flat {task_category, output} items and {tuning_type, data}
// blocks, in any mix.
func (p *Parser) items(v any) ([]model.InstructionItem, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("instructions must be an array, got %T", v)
	}

	var items []model.InstructionItem
	for _, elem := range list {
		obj, ok := elem.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("instruction must be an object, got %T", elem)
		}
		data, isBlock := obj[model.KeyData].([]any)
		if !isBlock {
			items = append(items, model.InstructionItem(jsontree.StripMap(obj, p.strip...)))
			continue
		}
		for _, d := range data {
			item, ok := d.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("instruction data must be objects, got %T", d)
			}
			items = append(items, model.InstructionItem(jsontree.StripMap(item, p.strip...)))
		}
	}
	return items, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil, errors.New("empty array")
		}
		v = list[0]
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %T", v)
	}
	return obj, nil
}

func (p *Parser) contentTaskType(obj map[string]any) (model.TaskType, bool) {
	for _, key := range []string{model.KeyTuningType, "task_type"} {
		if s, ok := obj[key].(string); ok {
			if t, ok := p.tuningType(s); ok {
				return t, true
			}
		}
	}
	if list, ok := obj[model.KeyInstructions].([]any); ok {
		for _, elem := range list {
			block, _ := elem.(map[string]any)
			if s, ok := block[model.KeyTuningType].(string); ok {
				if t, ok := p.tuningType(s); ok {
					return t, true
				}
			}
		}
	}
	return "", false
}

// tuningType accepts canonical names ("summary") and configured keywords ("요약").
func (p *Parser) tuningType(s string) (model.TaskType, bool) {
	if t, err := model.ParseTaskType(s); err == nil {
		return t, true
	}
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "" {
		return "", false
	}
	for _, tk := range p.keywords {
		for _, k := range tk.Keywords {
			if k == lower {
				return tk.Type, true
			}
		}
	}
	return "", false
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

func stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
