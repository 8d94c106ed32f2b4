package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/dataset"
	"github.com/Veraticus/callscore/internal/gbm"
	"github.com/Veraticus/callscore/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedModel struct {
	probs []float64
}

func (f fixedModel) PredictProba([]float64) ([]float64, error) {
	return append([]float64(nil), f.probs...), nil
}

func testSchema(t *testing.T, labels ...string) *schema.ModelSchema {
	t.Helper()
	enc, err := schema.NewLabelEncoder(labels)
	require.NoError(t, err)
	return &schema.ModelSchema{
		FeatureNames: []string{"turn_count", "politeness_count", "consulting_category"},
		CategoricalEncoders: map[string]*schema.CategoricalEncoder{
			"consulting_category": schema.FitCategorical([]string{"billing", "delivery"}),
		},
		LabelEncoder: enc,
		Version:      "v-test",
	}
}

func trainingConfig() config.TrainingConfig {
	cfg := config.Default().Training
	cfg.Labels = []string{"good", "bad"}
	cfg.NumRounds = 30
	cfg.LearningRate = 0.3
	cfg.MaxDepth = 3
	cfg.NumLeaves = 4
	cfg.MinDataInLeaf = 2
	cfg.FeatureFraction = 1
	cfg.BaggingFraction = 1
	cfg.BaggingFreq = 0
	cfg.EarlyStoppingRounds = 0
	return cfg
}

// syntheticTable labels a row "good" when score is above 5.
func syntheticTable(t *testing.T, n, offset int) *dataset.Table {
	t.Helper()
	tbl := dataset.NewTable([]string{
		dataset.ColumnSessionID, "score", "channel", "sparse", dataset.ColumnLabel, dataset.ColumnTopTerms,
	})
	for i := 0; i < n; i++ {
		score := (i + offset) % 11
		label := "bad"
		if score > 5 {
			label = "good"
		}
		channel := "web"
		if i%2 == 0 {
			channel = "phone"
		}
		sparse := ""
		if i%5 == 0 {
			sparse = "1"
		}
		require.NoError(t, tbl.Append([]string{
			fmt.Sprint(1000 + i + offset), fmt.Sprint(score), channel, sparse, label, "a, b",
		}))
	}
	return tbl
}

func TestComputeClassWeights(t *testing.T) {
	tests := []struct {
		name string
		y    []int
		k    int
		want map[int]float64
	}{
		{name: "balanced", y: []int{0, 1, 0, 1}, k: 2, want: map[int]float64{0: 1, 1: 1}},
		{name: "imbalanced", y: []int{0, 0, 0, 1}, k: 2, want: map[int]float64{0: 4.0 / 6.0, 1: 2}},
		{name: "absent class ignored", y: []int{0, 2}, k: 4, want: map[int]float64{0: 1, 2: 1}},
		{name: "empty", y: nil, k: 2, want: map[int]float64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeClassWeights(tt.y, tt.k)
			require.Len(t, got, len(tt.want))
			for c, w := range tt.want {
				assert.InDelta(t, w, got[c], 1e-9)
			}
		})
	}
}

func TestNewEvalReport(t *testing.T) {
	r, err := NewEvalReport([]string{"a", "b"}, []int{0, 0, 1, 1}, []int{0, 1, 1, 1})
	require.NoError(t, err)

	assert.Equal(t, [][]int{{1, 1}, {0, 2}}, r.Confusion)
	assert.InDelta(t, 0.75, r.Accuracy, 1e-9)
	assert.Equal(t, 4, r.Support)
	require.Len(t, r.PerClass, 2)
	assert.InDelta(t, 1.0, r.PerClass[0].Precision, 1e-9)
	assert.InDelta(t, 0.5, r.PerClass[0].Recall, 1e-9)
	assert.InDelta(t, 2.0/3.0, r.PerClass[1].Precision, 1e-9)
	assert.InDelta(t, 0.8, r.PerClass[1].F1, 1e-9)

	_, err = NewEvalReport([]string{"a"}, []int{0}, []int{0, 0})
	assert.Error(t, err)
	_, err = NewEvalReport([]string{"a", "b"}, []int{3}, []int{0})
	assert.Error(t, err)
}

func TestPredictor_TiesGoToLowestClass(t *testing.T) {
	s := testSchema(t, "satisfied", "inadequate", "unresolved", "needs_follow_up")
	p, err := NewPredictorFromModel(fixedModel{probs: []float64{0.4, 0.4, 0.1, 0.1}}, s)
	require.NoError(t, err)

	preds, err := p.Predict(Matrix{{1, 2, 0}})
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, 0, preds[0].ClassID)
	assert.Equal(t, "satisfied", preds[0].Label)
	assert.InDelta(t, 0.4, preds[0].Confidence, 1e-9)
}

func TestPredictor_ConfidenceClamped(t *testing.T) {
	s := testSchema(t, "a", "b")
	p, err := NewPredictorFromModel(fixedModel{probs: []float64{0.1, 1.0000001}}, s)
	require.NoError(t, err)

	pred, err := p.PredictFeatures("1", map[string]any{"turn_count": 3})
	require.NoError(t, err)
	assert.Equal(t, "b", pred.Label)
	assert.LessOrEqual(t, pred.Confidence, 1.0)
	assert.GreaterOrEqual(t, pred.Confidence, 0.0)
}

func TestPredictor_SchemaMismatch(t *testing.T) {
	s := testSchema(t, "a", "b")
	p, err := NewPredictorFromModel(fixedModel{probs: []float64{0.5, 0.5}}, s)
	require.NoError(t, err)

	_, err = p.Predict(Matrix{{1, 2}})
	assert.ErrorIs(t, err, common.ErrSchemaMismatch)

	_, err = p.PredictColumns([]string{"politeness_count", "turn_count", "consulting_category"}, Matrix{{1, 2, 0}})
	assert.ErrorIs(t, err, common.ErrSchemaMismatch)

	preds, err := p.PredictColumns(s.FeatureNames, Matrix{{1, 2, 0}})
	require.NoError(t, err)
	assert.Len(t, preds, 1)
}

func TestPredictor_MissingFeatureAligned(t *testing.T) {
	s := testSchema(t, "a", "b")
	p, err := NewPredictorFromModel(fixedModel{probs: []float64{0.7, 0.3}}, s)
	require.NoError(t, err)

	_, err = p.PredictFeatures("42", map[string]any{
		"turn_count":          4,
		"consulting_category": "refund",
	})
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Rows)
	assert.Equal(t, int64(1), stats.MissingFeatures)
	assert.Equal(t, int64(1), stats.UnknownCategories)
}

func TestNewPredictor_BundleChecks(t *testing.T) {
	s := testSchema(t, "a", "b")

	_, err := NewPredictor(schema.Bundle{})
	assert.ErrorIs(t, err, common.ErrIncompleteBundle)

	_, err = NewPredictor(schema.Bundle{Schema: s, Classifier: json.RawMessage(`{not json`)})
	assert.ErrorIs(t, err, common.ErrIncompleteBundle)

	train := gbm.Dataset{X: [][]float64{{0, 0}, {1, 1}, {0, 1}, {1, 0}}, Y: []int{0, 1, 0, 1}}
	params := gbm.DefaultParams(2)
	params.NumRounds = 2
	params.MinDataInLeaf = 1
	m, err := gbm.Train(context.Background(), params, train, nil)
	require.NoError(t, err)
	raw, err := json.Marshal(m)
	require.NoError(t, err)

	_, err = NewPredictor(schema.Bundle{Schema: s, Classifier: raw})
	assert.ErrorIs(t, err, common.ErrSchemaMismatch)
}

func TestTrainer_EndToEnd(t *testing.T) {
	split := dataset.Split{
		Train: syntheticTable(t, 66, 0),
		Val:   syntheticTable(t, 22, 3),
		Test:  syntheticTable(t, 22, 7),
	}

	var rounds int
	trainer := NewTrainer(trainingConfig(), WithProgress(func(gbm.Progress) { rounds++ }))
	res, err := trainer.Train(context.Background(), split)
	require.NoError(t, err)

	assert.Equal(t, 30, rounds)
	assert.Equal(t, 66, res.TrainRows)
	assert.Equal(t, []string{"score", "channel"}, res.Schema.FeatureNames)
	assert.Contains(t, res.Schema.CategoricalEncoders, "channel")
	assert.NotContains(t, res.Schema.CategoricalEncoders, "score")
	assert.NotEmpty(t, res.Schema.Version)

	excluded := make(map[string]string)
	for _, e := range res.Excluded {
		excluded[e.Name] = e.Reason
	}
	assert.Contains(t, excluded, dataset.ColumnSessionID)
	assert.Contains(t, excluded, dataset.ColumnTopTerms)
	assert.Contains(t, excluded, "sparse")

	require.NotNil(t, res.Val)
	require.NotNil(t, res.Test)
	assert.Greater(t, res.Test.Accuracy, 0.9)
	assert.Len(t, res.ClassWeights, 2)

	p, err := NewPredictor(res.Bundle)
	require.NoError(t, err)
	assert.Equal(t, res.Schema.Version, p.Version())

	preds, err := p.PredictTable(split.Test)
	require.NoError(t, err)
	require.Len(t, preds, split.Test.Len())
	for i, pred := range preds {
		assert.Equal(t, split.Test.Value(i, dataset.ColumnLabel), pred.Label, "row %d", i)
		assert.InDelta(t, 1.0, pred.Probabilities[0]+pred.Probabilities[1], 1e-9)
	}

	report, err := p.Evaluate(split.Test)
	require.NoError(t, err)
	assert.InDelta(t, res.Test.Accuracy, report.Accuracy, 1e-9)

	partial := split.Test.Subset(allRows(split.Test.Len()))
	label := partial.Index(dataset.ColumnLabel)
	partial.Rows[0][label] = ""
	partial.Rows[1][label] = ""
	report, err = p.Evaluate(partial)
	require.NoError(t, err)
	assert.Equal(t, split.Test.Len()-2, report.Support)

	for i := range partial.Rows {
		partial.Rows[i][label] = ""
	}
	_, err = p.Evaluate(partial)
	assert.ErrorIs(t, err, common.ErrNoLabelledRows)
}

func allRows(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func TestTrainer_Errors(t *testing.T) {
	trainer := NewTrainer(trainingConfig())

	_, err := trainer.Train(context.Background(), dataset.Split{})
	assert.ErrorIs(t, err, common.ErrNoTrainingData)

	noLabel := dataset.NewTable([]string{dataset.ColumnSessionID, "score"})
	require.NoError(t, noLabel.Append([]string{"1", "2"}))
	_, err = trainer.Train(context.Background(), dataset.Split{Train: noLabel})
	assert.ErrorIs(t, err, common.ErrNoTrainingData)

	unknown := syntheticTable(t, 10, 0)
	unknown.Rows[0][4] = "mystery"
	_, err = trainer.Train(context.Background(), dataset.Split{Train: unknown})
	assert.ErrorIs(t, err, common.ErrUnknownLabel)
}
