package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/dataset"
	"github.com/Veraticus/callscore/internal/gbm"
	"github.com/Veraticus/callscore/internal/schema"
)

// Model produces class posteriors for an aligned row.
type Model interface {
	PredictProba(x []float64) ([]float64, error)
}

// Prediction is the classifier output for one row.
type Prediction struct {
	Label         string
	Probabilities []float64
	ClassID       int
	Confidence    float64
}

// Predictor serves predictions for one loaded bundle. It is immutable after
// construction and safe for concurrent use.
type Predictor struct {
	model   Model
	schema  *schema.ModelSchema
	aligner *schema.Aligner
}

// NewPredictor decodes the classifier in b and checks it matches the schema.
func NewPredictor(b schema.Bundle) (*Predictor, error) {
	if b.Schema == nil {
		return nil, fmt.Errorf("%w: bundle has no schema", common.ErrIncompleteBundle)
	}
	var m gbm.Model
	if err := json.Unmarshal(b.Classifier, &m); err != nil {
		return nil, fmt.Errorf("%w: classifier: %v", common.ErrIncompleteBundle, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.NumFeatures != len(b.Schema.FeatureNames) {
		return nil, fmt.Errorf("%w: classifier expects %d features, schema lists %d",
			common.ErrSchemaMismatch, m.NumFeatures, len(b.Schema.FeatureNames))
	}
	if m.NumClass != b.Schema.LabelEncoder.Len() {
		return nil, fmt.Errorf("%w: classifier has %d classes, label encoder %d",
			common.ErrSchemaMismatch, m.NumClass, b.Schema.LabelEncoder.Len())
	}
	return NewPredictorFromModel(&m, b.Schema)
}

// NewPredictorFromModel pairs an in-memory model with its schema.
func NewPredictorFromModel(m Model, s *schema.ModelSchema) (*Predictor, error) {
	if m == nil || s == nil {
		return nil, fmt.Errorf("%w: predictor needs a model and a schema", common.ErrIncompleteBundle)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Predictor{model: m, schema: s, aligner: schema.NewAligner(s)}, nil
}

// Schema returns the schema the predictor serves.
func (p *Predictor) Schema() *schema.ModelSchema {
	return p.schema
}

// Version returns the bundle version.
func (p *Predictor) Version() string {
	return p.schema.Version
}

// Stats returns the cumulative alignment counters.
func (p *Predictor) Stats() schema.AlignStats {
	return p.aligner.Stats()
}

// Predict classifies aligned rows. Every row must have exactly one value per
// schema feature.
func (p *Predictor) Predict(x Matrix) ([]Prediction, error) {
	out := make([]Prediction, len(x))
	for i, row := range x {
		pred, err := p.predictRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = pred
	}
	return out, nil
}

// PredictColumns classifies x whose columns are named by columns. The names
// must equal the schema's feature names in order.
func (p *Predictor) PredictColumns(columns []string, x Matrix) ([]Prediction, error) {
	if !slices.Equal(columns, p.schema.FeatureNames) {
		return nil, fmt.Errorf("%w: column layout differs from the trained feature order", common.ErrSchemaMismatch)
	}
	return p.Predict(x)
}

// PredictFeatures aligns a raw feature mapping and classifies it.
func (p *Predictor) PredictFeatures(sessionID string, raw map[string]any) (Prediction, error) {
	return p.predictRow(p.aligner.Align(sessionID, raw))
}

// PredictTable aligns and classifies every row of a prepared feature table.
func (p *Predictor) PredictTable(t *dataset.Table) ([]Prediction, error) {
	out := make([]Prediction, t.Len())
	for i := range t.Rows {
		pred, err := p.PredictFeatures(t.Value(i, dataset.ColumnSessionID), RowRecord(t, i))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = pred
	}
	return out, nil
}

func (p *Predictor) predictRow(row []float64) (Prediction, error) {
	if len(row) != len(p.schema.FeatureNames) {
		return Prediction{}, fmt.Errorf("%w: got %d features, schema has %d",
			common.ErrSchemaMismatch, len(row), len(p.schema.FeatureNames))
	}
	probs, err := p.model.PredictProba(row)
	if err != nil {
		return Prediction{}, err
	}
	if len(probs) != p.schema.LabelEncoder.Len() {
		return Prediction{}, fmt.Errorf("%w: model returned %d classes, schema has %d",
			common.ErrSchemaMismatch, len(probs), p.schema.LabelEncoder.Len())
	}

	// Strict comparison keeps the lowest class id on ties.
	best := 0
	for k := 1; k < len(probs); k++ {
		if probs[k] > probs[best] {
			best = k
		}
	}
	label, err := p.schema.LabelEncoder.Decode(best)
	if err != nil {
		return Prediction{}, err
	}

	confidence := probs[best]
	switch {
	case confidence < 0 || math.IsNaN(confidence):
		confidence = 0
	case confidence > 1:
		confidence = 1
	}
	return Prediction{
		Label:         label,
		Probabilities: probs,
		ClassID:       best,
		Confidence:    confidence,
	}, nil
}

func (p *Predictor) evaluate(x Matrix, y []int) (*EvalReport, error) {
	preds, err := p.Predict(x)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(preds))
	for i, pr := range preds {
		ids[i] = pr.ClassID
	}
	return NewEvalReport(p.schema.LabelEncoder.Classes, y, ids)
}

// Evaluate classifies the rows of t that carry a result_label and compares
// against it. Unlabelled rows are skipped; a table without any labelled row
// yields common.ErrNoLabelledRows.
func (p *Predictor) Evaluate(t *dataset.Table) (*EvalReport, error) {
	var labelled []int
	for i := range t.Rows {
		if !dataset.IsMissing(t.Value(i, dataset.ColumnLabel)) {
			labelled = append(labelled, i)
		}
	}
	if len(labelled) == 0 {
		return nil, common.ErrNoLabelledRows
	}
	x, y, err := encodeTable(p.schema, t.Subset(labelled))
	if err != nil {
		return nil, err
	}
	return p.evaluate(x, y)
}
