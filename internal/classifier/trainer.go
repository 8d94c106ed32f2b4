// Package classifier trains the session-quality model and serves predictions
// from a persisted bundle.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/dataset"
	"github.com/Veraticus/callscore/internal/gbm"
	"github.com/Veraticus/callscore/internal/schema"
	"github.com/google/uuid"
)

// NonFeatureColumns are never fed to the model.
var NonFeatureColumns = []string{
	dataset.ColumnSessionID,
	dataset.ColumnLabel,
	"label_id",
	dataset.ColumnTopTerms,
	"consulting_content",
	"asr_segments",
}

// ExcludedColumn records a column left out of the feature set.
type ExcludedColumn struct {
	Name   string
	Reason string
}

// TrainResult is the outcome of a training run.
type TrainResult struct {
	Bundle       schema.Bundle
	Model        *gbm.Model
	Schema       *schema.ModelSchema
	Val          *EvalReport
	Test         *EvalReport
	ClassWeights map[string]float64
	Excluded     []ExcludedColumn
	TrainRows    int
}

// Trainer fits a model and its schema from prepared feature tables.
type Trainer struct {
	progress func(gbm.Progress)
	cfg      config.TrainingConfig
}

// TrainerOption configures a Trainer.
type TrainerOption func(*Trainer)

// WithProgress reports every boosting round.
func WithProgress(fn func(gbm.Progress)) TrainerOption {
	return func(t *Trainer) { t.progress = fn }
}

// NewTrainer creates a trainer for the training policy.
func NewTrainer(cfg config.TrainingConfig, opts ...TrainerOption) *Trainer {
	t := &Trainer{cfg: cfg}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Params converts the training policy into boosting parameters.
func (t *Trainer) Params(numClass int) gbm.Params {
	p := gbm.DefaultParams(numClass)
	p.NumRounds = t.cfg.NumRounds
	p.LearningRate = t.cfg.LearningRate
	p.MaxDepth = t.cfg.MaxDepth
	p.NumLeaves = t.cfg.NumLeaves
	p.MinDataInLeaf = t.cfg.MinDataInLeaf
	p.Lambda = t.cfg.Lambda
	p.FeatureFraction = t.cfg.FeatureFraction
	p.BaggingFraction = t.cfg.BaggingFraction
	p.BaggingFreq = t.cfg.BaggingFreq
	p.EarlyStoppingRounds = t.cfg.EarlyStoppingRounds
	p.Seed = t.cfg.Seed
	return p
}

// Train fits a model on split.Train, early-stops on split.Val and reports
// metrics on split.Val and split.Test. Val and Test may be nil or empty.
func (t *Trainer) Train(ctx context.Context, split dataset.Split) (*TrainResult, error) {
	if split.Train == nil || split.Train.Len() == 0 {
		return nil, common.ErrNoTrainingData
	}
	if !split.Train.Has(dataset.ColumnLabel) {
		return nil, fmt.Errorf("%w: training table has no %s column", common.ErrNoTrainingData, dataset.ColumnLabel)
	}

	labels, err := schema.NewLabelEncoder(t.cfg.Labels)
	if err != nil {
		return nil, err
	}

	parts := nonEmpty(split.Train, split.Val, split.Test)
	features, excluded := selectFeatures(split.Train, t.cfg.MaxMissingRatio)
	if len(features) == 0 {
		return nil, fmt.Errorf("%w: no usable feature columns", common.ErrNoTrainingData)
	}

	encoders := make(map[string]*schema.CategoricalEncoder)
	for _, f := range features {
		if values, categorical := categoricalValues(f, parts); categorical {
			encoders[f] = schema.FitCategorical(values)
		}
	}

	s := &schema.ModelSchema{
		CreatedAt:           time.Now().UTC(),
		CategoricalEncoders: encoders,
		LabelEncoder:        labels,
		Version:             uuid.NewString(),
		FeatureNames:        features,
	}

	trainX, trainY, err := encodeTable(s, split.Train)
	if err != nil {
		return nil, fmt.Errorf("training table: %w", err)
	}

	var valid *gbm.Dataset
	if split.Val != nil && split.Val.Len() > 0 {
		vx, vy, err := encodeTable(s, split.Val)
		if err != nil {
			return nil, fmt.Errorf("validation table: %w", err)
		}
		valid = &gbm.Dataset{X: vx, Y: vy}
	}

	classWeights := ComputeClassWeights(trainY, labels.Len())
	named := make(map[string]float64, len(classWeights))
	for _, c := range sortedClasses(classWeights) {
		label, _ := labels.Decode(c)
		named[label] = classWeights[c]
	}

	slog.Info("training classifier",
		"rows", len(trainX),
		"features", len(features),
		"categorical", len(encoders),
		"excluded", len(excluded),
		"class_weights", named)

	var opts []gbm.Option
	if t.progress != nil {
		opts = append(opts, gbm.WithProgress(t.progress))
	}
	model, err := Fit(ctx, t.Params(labels.Len()), trainX, trainY, classWeights, valid, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to fit model: %w", err)
	}

	serialized, err := json.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize model: %w", err)
	}

	result := &TrainResult{
		Bundle:       schema.Bundle{Schema: s, Classifier: serialized},
		Model:        model,
		Schema:       s,
		ClassWeights: named,
		Excluded:     excluded,
		TrainRows:    len(trainX),
	}

	predictor, err := NewPredictorFromModel(model, s)
	if err != nil {
		return nil, err
	}
	if valid != nil {
		result.Val, err = predictor.evaluate(valid.X, valid.Y)
		if err != nil {
			return nil, err
		}
	}
	if split.Test != nil && split.Test.Len() > 0 {
		tx, ty, err := encodeTable(s, split.Test)
		if err != nil {
			return nil, fmt.Errorf("test table: %w", err)
		}
		result.Test, err = predictor.evaluate(tx, ty)
		if err != nil {
			return nil, err
		}
	}

	slog.Info("training finished",
		"rounds", model.NumRounds(),
		"version", s.Version)
	return result, nil
}

func nonEmpty(tables ...*dataset.Table) []*dataset.Table {
	out := make([]*dataset.Table, 0, len(tables))
	for _, t := range tables {
		if t != nil && t.Len() > 0 {
			out = append(out, t)
		}
	}
	return out
}

// selectFeatures keeps every training column except identifiers, labels,
// free text and columns that are mostly empty.
func selectFeatures(train *dataset.Table, maxMissing float64) ([]string, []ExcludedColumn) {
	skip := make(map[string]struct{}, len(NonFeatureColumns))
	for _, c := range NonFeatureColumns {
		skip[c] = struct{}{}
	}

	var (
		features []string
		excluded []ExcludedColumn
	)
	seen := make(map[string]struct{})
	for _, col := range train.Columns {
		if _, dup := seen[col]; dup {
			continue
		}
		seen[col] = struct{}{}
		if _, ok := skip[col]; ok {
			excluded = append(excluded, ExcludedColumn{Name: col, Reason: "not a feature"})
			continue
		}
		if ratio := train.MissingRatio(col); ratio > maxMissing {
			excluded = append(excluded, ExcludedColumn{Name: col, Reason: fmt.Sprintf("%.0f%% missing", ratio*100)})
			continue
		}
		features = append(features, col)
	}
	return features, excluded
}

// categoricalValues reports whether any present cell of column fails to
// parse as a number, and returns every present value across tables.
func categoricalValues(column string, tables []*dataset.Table) ([]string, bool) {
	var values []string
	categorical := false
	for _, t := range tables {
		cells, ok := t.Column(column)
		if !ok {
			continue
		}
		for _, c := range cells {
			c = strings.TrimSpace(c)
			if dataset.IsMissing(c) {
				continue
			}
			values = append(values, c)
			if _, err := strconv.ParseFloat(c, 64); err != nil {
				categorical = true
			}
		}
	}
	sort.Strings(values)
	return values, categorical
}

// RowRecord returns row i as the raw mapping consumed by schema alignment:
// present cells as trimmed strings, missing cells omitted.
func RowRecord(t *dataset.Table, i int) map[string]any {
	rec := make(map[string]any, len(t.Columns))
	for j, col := range t.Columns {
		cell := strings.TrimSpace(t.Rows[i][j])
		if dataset.IsMissing(cell) {
			continue
		}
		rec[col] = cell
	}
	return rec
}

func encodeTable(s *schema.ModelSchema, t *dataset.Table) (Matrix, []int, error) {
	x := make(Matrix, t.Len())
	y := make([]int, t.Len())
	for i := range t.Rows {
		row, _ := s.Align(RowRecord(t, i))
		x[i] = row
		label := strings.TrimSpace(t.Value(i, dataset.ColumnLabel))
		id, err := s.LabelEncoder.Encode(label)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d (session %s): %w", i, t.Value(i, dataset.ColumnSessionID), err)
		}
		y[i] = id
	}
	return x, y, nil
}
