package classifier

import (
	"context"
	"sort"

	"github.com/Veraticus/callscore/internal/gbm"
)

// Matrix is a dense row-major feature matrix.
type Matrix [][]float64

// ComputeClassWeights returns balanced weights n / (k * count_c) for every
// class present in y, where k is the number of present classes.
func ComputeClassWeights(y []int, numClass int) map[int]float64 {
	counts := make(map[int]int)
	for _, c := range y {
		if c >= 0 && c < numClass {
			counts[c]++
		}
	}
	weights := make(map[int]float64, len(counts))
	if len(counts) == 0 {
		return weights
	}
	n := 0
	for _, c := range counts {
		n += c
	}
	k := float64(len(counts))
	for c, count := range counts {
		weights[c] = float64(n) / (k * float64(count))
	}
	return weights
}

// rowWeights expands class weights to one weight per row.
func rowWeights(y []int, classWeights map[int]float64) []float64 {
	if len(classWeights) == 0 {
		return nil
	}
	w := make([]float64, len(y))
	for i, c := range y {
		cw, ok := classWeights[c]
		if !ok {
			cw = 1
		}
		w[i] = cw
	}
	return w
}

// Fit trains a boosted model on X and y with the given class weights. A nil
// or empty valid set disables early stopping.
func Fit(ctx context.Context, params gbm.Params, X Matrix, y []int, classWeights map[int]float64, valid *gbm.Dataset, opts ...gbm.Option) (*gbm.Model, error) {
	train := gbm.Dataset{X: X, Y: y, Weights: rowWeights(y, classWeights)}
	return gbm.Train(ctx, params, train, valid, opts...)
}

func sortedClasses(weights map[int]float64) []int {
	classes := make([]int, 0, len(weights))
	for c := range weights {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	return classes
}
