// Package schema keeps the column layout, categorical encodings and label
// space of a trained classifier identical between training and inference.
package schema

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Veraticus/callscore/internal/common"
)

// ModelSchema is the contract between a trained classifier and its inputs.
// It is never mutated after construction.
type ModelSchema struct {
	CreatedAt           time.Time
	CategoricalEncoders map[string]*CategoricalEncoder
	LabelEncoder        *LabelEncoder
	Version             string
	FeatureNames        []string
}

// AlignedRow is one numeric row in FeatureNames order.
type AlignedRow []float64

// UnknownCategory records an unseen categorical value.
type UnknownCategory struct {
	Feature string
	Value   string
}

// AlignReport lists the substitutions made while aligning a row.
type AlignReport struct {
	Missing           []string
	Unparsable        []string
	UnknownCategories []UnknownCategory
}

// Substitutions counts the features that did not come through as given.
func (r AlignReport) Substitutions() int {
	return len(r.Missing) + len(r.Unparsable) + len(r.UnknownCategories)
}

// Validate checks the schema is internally consistent.
func (s *ModelSchema) Validate() error {
	if len(s.FeatureNames) == 0 {
		return fmt.Errorf("%w: no feature names", common.ErrIncompleteBundle)
	}
	seen := make(map[string]struct{}, len(s.FeatureNames))
	for _, n := range s.FeatureNames {
		if _, dup := seen[n]; dup {
			return fmt.Errorf("%w: duplicate feature %q", common.ErrIncompleteBundle, n)
		}
		seen[n] = struct{}{}
	}
	for name, enc := range s.CategoricalEncoders {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("%w: encoder for unknown feature %q", common.ErrIncompleteBundle, name)
		}
		if enc == nil || enc.Len() == 0 {
			return fmt.Errorf("%w: empty encoder for %q", common.ErrIncompleteBundle, name)
		}
	}
	if s.LabelEncoder == nil || s.LabelEncoder.Len() < 2 {
		return fmt.Errorf("%w: label encoder needs at least two classes", common.ErrIncompleteBundle)
	}
	return nil
}

// Align projects raw onto FeatureNames. The output always has one value per
// feature: absent and unparsable numerics become 0, absent categoricals and
// unseen categories become the sentinel code.
func (s *ModelSchema) Align(raw map[string]any) (AlignedRow, AlignReport) {
	row := make(AlignedRow, len(s.FeatureNames))
	var report AlignReport

	for i, name := range s.FeatureNames {
		v, present := raw[name]
		if present && v == nil {
			present = false
		}

		if enc, ok := s.CategoricalEncoders[name]; ok {
			if !present {
				report.Missing = append(report.Missing, name)
				row[i] = float64(enc.MissingCode())
				continue
			}
			value := strings.TrimSpace(fmt.Sprint(v))
			code, known := enc.Encode(value)
			if !known {
				report.UnknownCategories = append(report.UnknownCategories, UnknownCategory{Feature: name, Value: value})
			}
			row[i] = float64(code)
			continue
		}

		if !present {
			report.Missing = append(report.Missing, name)
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			report.Unparsable = append(report.Unparsable, name)
			continue
		}
		row[i] = f
	}
	return row, report
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case int32:
		f = float64(val)
	case bool:
		if val {
			f = 1
		}
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// AlignStats are cumulative substitution counters.
type AlignStats struct {
	Rows              int64
	MissingFeatures   int64
	Unparsable        int64
	UnknownCategories int64
}

// Aligner aligns rows against a schema and keeps operator-visible counters.
// It is safe for concurrent use.
type Aligner struct {
	schema     *ModelSchema
	rows       atomic.Int64
	missing    atomic.Int64
	unparsable atomic.Int64
	unknown    atomic.Int64
}

// NewAligner wraps s.
func NewAligner(s *ModelSchema) *Aligner {
	return &Aligner{schema: s}
}

// Schema returns the wrapped schema.
func (a *Aligner) Schema() *ModelSchema {
	return a.schema
}

// Align aligns raw, logs substitutions, and updates the counters.
func (a *Aligner) Align(sessionID string, raw map[string]any) AlignedRow {
	row, report := a.schema.Align(raw)

	a.rows.Add(1)
	a.missing.Add(int64(len(report.Missing)))
	a.unparsable.Add(int64(len(report.Unparsable)))
	a.unknown.Add(int64(len(report.UnknownCategories)))

	for _, u := range report.UnknownCategories {
		slog.Warn("unknown category mapped to sentinel",
			"session_id", sessionID,
			"feature", u.Feature,
			"value", u.Value)
	}
	if len(report.Missing) > 0 || len(report.Unparsable) > 0 {
		slog.Debug("features substituted with defaults",
			"session_id", sessionID,
			"missing", report.Missing,
			"unparsable", report.Unparsable)
	}
	return row
}

// Stats returns a snapshot of the counters.
func (a *Aligner) Stats() AlignStats {
	return AlignStats{
		Rows:              a.rows.Load(),
		MissingFeatures:   a.missing.Load(),
		Unparsable:        a.unparsable.Load(),
		UnknownCategories: a.unknown.Load(),
	}
}
