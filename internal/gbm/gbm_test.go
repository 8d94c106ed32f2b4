package gbm

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bands builds rows whose class is determined by the first feature alone.
func bands(n int, label func(class int) int) Dataset {
	var d Dataset
	for i := 0; i < n; i++ {
		class := i * 3 / n
		d.X = append(d.X, []float64{float64(i), float64((i * 7) % 5)})
		d.Y = append(d.Y, label(class))
	}
	return d
}

func identity(c int) int { return c }

func testParams() Params {
	p := DefaultParams(3)
	p.NumRounds = 40
	p.LearningRate = 0.3
	p.MinDataInLeaf = 3
	p.NumLeaves = 4
	p.BaggingFraction = 1
	p.FeatureFraction = 1
	p.EarlyStoppingRounds = 5
	return p
}

func accuracy(t *testing.T, m *Model, d Dataset) float64 {
	t.Helper()
	correct := 0
	for i, x := range d.X {
		probs, err := m.PredictProba(x)
		require.NoError(t, err)
		best := 0
		for k := range probs {
			if probs[k] > probs[best] {
				best = k
			}
		}
		if best == d.Y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(d.X))
}

func TestTrain_LearnsSeparableBands(t *testing.T) {
	train := bands(60, identity)

	m, err := Train(context.Background(), testParams(), train, nil)
	require.NoError(t, err)

	assert.Equal(t, 40, m.NumRounds())
	assert.Equal(t, 3, m.NumClass)
	assert.Equal(t, 2, m.NumFeatures)
	assert.GreaterOrEqual(t, accuracy(t, m, train), 0.95)
	for _, round := range m.Rounds {
		for _, tree := range round {
			assert.LessOrEqual(t, tree.NumLeaves(), 4)
		}
	}
}

func TestTrain_Deterministic(t *testing.T) {
	p := testParams()
	p.BaggingFraction = 0.7
	p.BaggingFreq = 2
	p.FeatureFraction = 0.5
	train := bands(60, identity)

	first, err := Train(context.Background(), p, train, nil)
	require.NoError(t, err)
	second, err := Train(context.Background(), p, train, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestTrain_EarlyStoppingTruncatesToBestRound(t *testing.T) {
	train := bands(60, identity)
	valid := bands(60, func(c int) int { return (c + 1) % 3 })

	var rounds []Progress
	m, err := Train(context.Background(), testParams(), train, &valid, WithProgress(func(p Progress) {
		rounds = append(rounds, p)
	}))
	require.NoError(t, err)

	require.Len(t, rounds, 6)
	assert.True(t, rounds[0].HasValid)
	assert.Greater(t, rounds[5].ValidLoss, rounds[0].ValidLoss)
	assert.Less(t, rounds[5].TrainLoss, rounds[0].TrainLoss)
	assert.Equal(t, 1, m.NumRounds())
	assert.Equal(t, 1, m.BestIteration)
}

func TestTrain_ClassWeightsShiftDecisions(t *testing.T) {
	// Identical inputs with conflicting labels: weights decide the winner.
	d := Dataset{}
	for i := 0; i < 30; i++ {
		d.X = append(d.X, []float64{1})
		d.Y = append(d.Y, i%3)
		w := 1.0
		if i%3 == 2 {
			w = 5
		}
		d.Weights = append(d.Weights, w)
	}
	p := testParams()
	p.NumRounds = 20

	m, err := Train(context.Background(), p, d, nil)
	require.NoError(t, err)

	probs, err := m.PredictProba([]float64{1})
	require.NoError(t, err)
	assert.Greater(t, probs[2], probs[0])
	assert.Greater(t, probs[2], probs[1])
}

func TestTrain_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := Train(ctx, testParams(), Dataset{}, nil)
	assert.ErrorIs(t, err, common.ErrNoTrainingData)

	_, err = Train(ctx, testParams(), Dataset{X: [][]float64{{1}}, Y: []int{7}}, nil)
	assert.ErrorIs(t, err, common.ErrUnknownLabel)

	_, err = Train(ctx, testParams(), Dataset{X: [][]float64{{1}, {1, 2}}, Y: []int{0, 1}}, nil)
	assert.ErrorIs(t, err, common.ErrSchemaMismatch)

	bad := testParams()
	bad.NumClass = 1
	_, err = Train(ctx, bad, bands(9, identity), nil)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Train(cancelled, testParams(), bands(9, identity), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestModel_PredictProba(t *testing.T) {
	m, err := Train(context.Background(), testParams(), bands(30, identity), nil)
	require.NoError(t, err)

	probs, err := m.PredictProba([]float64{3, 1})
	require.NoError(t, err)
	sum := 0.0
	for _, p := range probs {
		assert.True(t, p >= 0 && p <= 1)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	_, err = m.PredictProba([]float64{1})
	assert.ErrorIs(t, err, common.ErrSchemaMismatch)
}

func TestModel_JSONPreservesPredictions(t *testing.T) {
	m, err := Train(context.Background(), testParams(), bands(30, identity), nil)
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	var restored Model
	require.NoError(t, json.Unmarshal(data, &restored))
	require.NoError(t, restored.Validate())

	for _, x := range [][]float64{{0, 0}, {15, 2}, {29, 4}} {
		want, err := m.PredictProba(x)
		require.NoError(t, err)
		got, err := restored.PredictProba(x)
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, got, 1e-12)
	}
}

func TestModel_ValidateRejectsMalformed(t *testing.T) {
	m := &Model{NumClass: 2, NumFeatures: 1, InitScores: []float64{0, 0}, Rounds: [][]Tree{{
		{Nodes: []Node{{Feature: 3, Left: 1, Right: 2}, {Left: -1, Right: -1}, {Left: -1, Right: -1}}},
		{Nodes: []Node{{Left: -1, Right: -1}}},
	}}}
	assert.ErrorIs(t, m.Validate(), common.ErrIncompleteBundle)

	m.Rounds[0][0].Nodes[0].Feature = 0
	assert.NoError(t, m.Validate())

	m.Rounds[0] = m.Rounds[0][:1]
	assert.ErrorIs(t, m.Validate(), common.ErrIncompleteBundle)
}

func TestSoftmaxAndLogLoss(t *testing.T) {
	p := Softmax([]float64{1000, 1000})
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, p, 1e-12)

	loss := MultiLogLoss([][]float64{{0.5, 0.5}, {1, 0}}, []int{0, 1}, nil)
	assert.InDelta(t, (math.Log(2)-math.Log(1e-15))/2, loss, 1e-9)

	assert.Equal(t, 0.0, MultiLogLoss(nil, nil, nil))
}
