package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/model"
)

// CategoricalEncoder maps category strings to integer codes. The "missing"
// sentinel is always part of the vocabulary and receives unseen values.
type CategoricalEncoder struct {
	index   map[string]int
	Classes []string `json:"classes"`
}

// FitCategorical builds an encoder over the distinct values, sorted.
// Empty values are treated as the sentinel.
func FitCategorical(values []string) *CategoricalEncoder {
	seen := map[string]struct{}{model.MissingCategory: {}}
	for _, v := range values {
		if v == "" {
			continue
		}
		seen[v] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Strings(classes)
	return newCategorical(classes)
}

func newCategorical(classes []string) *CategoricalEncoder {
	e := &CategoricalEncoder{Classes: classes, index: make(map[string]int, len(classes))}
	for i, c := range classes {
		e.index[c] = i
	}
	return e
}

// Encode returns the code for v. Unseen or empty values map to the sentinel
// code and report false.
func (e *CategoricalEncoder) Encode(v string) (int, bool) {
	if v == "" {
		return e.MissingCode(), true
	}
	if code, ok := e.index[v]; ok {
		return code, true
	}
	return e.MissingCode(), false
}

// Decode returns the category for code.
func (e *CategoricalEncoder) Decode(code int) (string, error) {
	if code < 0 || code >= len(e.Classes) {
		return "", fmt.Errorf("category code %d out of range [0,%d)", code, len(e.Classes))
	}
	return e.Classes[code], nil
}

// MissingCode is the code of the sentinel.
func (e *CategoricalEncoder) MissingCode() int {
	return e.index[model.MissingCategory]
}

// Len returns the vocabulary size.
func (e *CategoricalEncoder) Len() int {
	return len(e.Classes)
}

// UnmarshalJSON restores the lookup table and checks the sentinel is present.
func (e *CategoricalEncoder) UnmarshalJSON(data []byte) error {
	var aux struct {
		Classes []string `json:"classes"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	restored := newCategorical(aux.Classes)
	if len(restored.index) != len(aux.Classes) {
		return fmt.Errorf("%w: duplicate categories", common.ErrIncompleteBundle)
	}
	if _, ok := restored.index[model.MissingCategory]; !ok {
		return fmt.Errorf("%w: encoder lacks the %q category", common.ErrIncompleteBundle, model.MissingCategory)
	}
	*e = *restored
	return nil
}

// LabelEncoder maps outcome labels to class ids in a fixed order.
type LabelEncoder struct {
	index   map[string]int
	Classes []string `json:"classes"`
}

// NewLabelEncoder creates an encoder whose ids follow the order of labels.
func NewLabelEncoder(labels []string) (*LabelEncoder, error) {
	e := &LabelEncoder{Classes: append([]string(nil), labels...), index: make(map[string]int, len(labels))}
	for i, l := range labels {
		if l == "" {
			return nil, fmt.Errorf("%w: empty label", common.ErrInvalidConfig)
		}
		if _, dup := e.index[l]; dup {
			return nil, fmt.Errorf("%w: duplicate label %q", common.ErrInvalidConfig, l)
		}
		e.index[l] = i
	}
	return e, nil
}

// Encode returns the id of label.
func (e *LabelEncoder) Encode(label string) (int, error) {
	id, ok := e.index[label]
	if !ok {
		return 0, fmt.Errorf("%w: %q", common.ErrUnknownLabel, label)
	}
	return id, nil
}

// EncodeAll encodes every label, failing on the first unknown one.
func (e *LabelEncoder) EncodeAll(labels []string) ([]int, error) {
	ids := make([]int, len(labels))
	for i, l := range labels {
		id, err := e.Encode(l)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		ids[i] = id
	}
	return ids, nil
}

// Decode returns the label of id.
func (e *LabelEncoder) Decode(id int) (string, error) {
	if id < 0 || id >= len(e.Classes) {
		return "", fmt.Errorf("%w: class id %d", common.ErrUnknownLabel, id)
	}
	return e.Classes[id], nil
}

// Len returns the number of classes.
func (e *LabelEncoder) Len() int {
	return len(e.Classes)
}

// UnmarshalJSON restores the lookup table.
func (e *LabelEncoder) UnmarshalJSON(data []byte) error {
	var aux struct {
		Classes []string `json:"classes"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	restored, err := NewLabelEncoder(aux.Classes)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrIncompleteBundle, err)
	}
	*e = *restored
	return nil
}
