// Package gbm implements multiclass gradient-boosted decision trees with a
// softmax objective.
package gbm

import (
	"fmt"
	"math"

	"github.com/Veraticus/callscore/internal/common"
)

// Node is one node of a regression tree. Leaves have Left == Right == -1.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

// IsLeaf reports whether n has no children.
func (n Node) IsLeaf() bool {
	return n.Left < 0
}

// Tree is a regression tree; Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict returns the leaf value reached by x. Values <= threshold go left.
func (t Tree) Predict(x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	i := 0
	for {
		n := t.Nodes[i]
		if n.IsLeaf() {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// NumLeaves counts the leaves of t.
func (t Tree) NumLeaves() int {
	n := 0
	for _, node := range t.Nodes {
		if node.IsLeaf() {
			n++
		}
	}
	return n
}

// Model is a trained ensemble. Rounds[r][k] is the tree for class k in round r.
type Model struct {
	Rounds        [][]Tree  `json:"rounds"`
	InitScores    []float64 `json:"init_scores"`
	NumClass      int       `json:"num_class"`
	NumFeatures   int       `json:"num_features"`
	BestIteration int       `json:"best_iteration"`
}

// NumRounds returns the number of boosting rounds kept.
func (m *Model) NumRounds() int {
	return len(m.Rounds)
}

// Validate checks the model shape after deserialization.
func (m *Model) Validate() error {
	if m.NumClass < 2 {
		return fmt.Errorf("%w: model has %d classes", common.ErrIncompleteBundle, m.NumClass)
	}
	if m.NumFeatures <= 0 {
		return fmt.Errorf("%w: model has no features", common.ErrIncompleteBundle)
	}
	if len(m.InitScores) != m.NumClass {
		return fmt.Errorf("%w: init scores for %d classes, want %d", common.ErrIncompleteBundle, len(m.InitScores), m.NumClass)
	}
	for r, round := range m.Rounds {
		if len(round) != m.NumClass {
			return fmt.Errorf("%w: round %d has %d trees, want %d", common.ErrIncompleteBundle, r, len(round), m.NumClass)
		}
		for k, tree := range round {
			for i, n := range tree.Nodes {
				if n.IsLeaf() {
					continue
				}
				if n.Feature < 0 || n.Feature >= m.NumFeatures ||
					n.Left <= i || n.Right <= i || n.Left >= len(tree.Nodes) || n.Right >= len(tree.Nodes) {
					return fmt.Errorf("%w: round %d class %d node %d is malformed", common.ErrIncompleteBundle, r, k, i)
				}
			}
		}
	}
	return nil
}

// PredictRaw returns the per-class margins for x.
func (m *Model) PredictRaw(x []float64) ([]float64, error) {
	if len(x) != m.NumFeatures {
		return nil, fmt.Errorf("%w: got %d features, model expects %d", common.ErrSchemaMismatch, len(x), m.NumFeatures)
	}
	scores := append([]float64(nil), m.InitScores...)
	for _, round := range m.Rounds {
		for k, tree := range round {
			scores[k] += tree.Predict(x)
		}
	}
	return scores, nil
}

// PredictProba returns the class posterior for x.
func (m *Model) PredictProba(x []float64) ([]float64, error) {
	scores, err := m.PredictRaw(x)
	if err != nil {
		return nil, err
	}
	return Softmax(scores), nil
}

// Softmax converts margins into probabilities.
func Softmax(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

const probEpsilon = 1e-15

// MultiLogLoss is the weighted mean negative log-likelihood of the true classes.
// A nil weights slice weights every row equally.
func MultiLogLoss(probs [][]float64, y []int, weights []float64) float64 {
	var loss, total float64
	for i, p := range probs {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		pi := math.Max(p[y[i]], probEpsilon)
		loss -= w * math.Log(pi)
		total += w
	}
	if total == 0 {
		return 0
	}
	return loss / total
}
