package gbm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/Veraticus/callscore/internal/common"
)

// Params controls boosting.
type Params struct {
	NumClass            int
	NumRounds           int
	LearningRate        float64
	MaxDepth            int
	NumLeaves           int
	MinDataInLeaf       int
	MinSumHessian       float64
	Lambda              float64
	FeatureFraction     float64
	BaggingFraction     float64
	BaggingFreq         int
	EarlyStoppingRounds int
	Seed                int64
}

// DefaultParams mirrors the production training policy.
func DefaultParams(numClass int) Params {
	return Params{
		NumClass:            numClass,
		NumRounds:           200,
		LearningRate:        0.05,
		MaxDepth:            6,
		NumLeaves:           31,
		MinDataInLeaf:       20,
		MinSumHessian:       1e-3,
		Lambda:              1,
		FeatureFraction:     0.9,
		BaggingFraction:     0.8,
		BaggingFreq:         5,
		EarlyStoppingRounds: 20,
		Seed:                42,
	}
}

func (p Params) validate() error {
	switch {
	case p.NumClass < 2:
		return fmt.Errorf("%w: num_class must be at least 2", common.ErrInvalidConfig)
	case p.NumRounds <= 0:
		return fmt.Errorf("%w: num_rounds must be positive", common.ErrInvalidConfig)
	case p.LearningRate <= 0:
		return fmt.Errorf("%w: learning_rate must be positive", common.ErrInvalidConfig)
	case p.NumLeaves < 2:
		return fmt.Errorf("%w: num_leaves must be at least 2", common.ErrInvalidConfig)
	case p.FeatureFraction <= 0 || p.FeatureFraction > 1:
		return fmt.Errorf("%w: feature_fraction must be in (0,1]", common.ErrInvalidConfig)
	case p.BaggingFraction <= 0 || p.BaggingFraction > 1:
		return fmt.Errorf("%w: bagging_fraction must be in (0,1]", common.ErrInvalidConfig)
	case p.Lambda < 0:
		return fmt.Errorf("%w: lambda must be non-negative", common.ErrInvalidConfig)
	}
	return nil
}

// Dataset is a dense feature matrix with class ids and optional row weights.
type Dataset struct {
	X       [][]float64
	Y       []int
	Weights []float64
}

func (d *Dataset) validate(numClass int) (int, error) {
	if len(d.X) == 0 {
		return 0, common.ErrNoTrainingData
	}
	if len(d.Y) != len(d.X) {
		return 0, fmt.Errorf("%d rows but %d labels", len(d.X), len(d.Y))
	}
	if d.Weights != nil && len(d.Weights) != len(d.X) {
		return 0, fmt.Errorf("%d rows but %d weights", len(d.X), len(d.Weights))
	}
	width := len(d.X[0])
	if width == 0 {
		return 0, errors.New("rows have no features")
	}
	for i, row := range d.X {
		if len(row) != width {
			return 0, fmt.Errorf("%w: row %d has %d features, want %d", common.ErrSchemaMismatch, i, len(row), width)
		}
		if d.Y[i] < 0 || d.Y[i] >= numClass {
			return 0, fmt.Errorf("%w: row %d has class %d", common.ErrUnknownLabel, i, d.Y[i])
		}
	}
	return width, nil
}

func (d *Dataset) weight(i int) float64 {
	if d.Weights == nil {
		return 1
	}
	return d.Weights[i]
}

// Progress is reported after every boosting round.
type Progress struct {
	Round         int
	TrainLoss     float64
	ValidLoss     float64
	HasValid      bool
	BestIteration int
}

// Option customises training.
type Option func(*options)

type options struct {
	progress func(Progress)
}

// WithProgress registers a per-round callback.
func WithProgress(fn func(Progress)) Option {
	return func(o *options) { o.progress = fn }
}

// Train fits a model. When valid is non-nil, training stops once the
// validation loss has not improved for EarlyStoppingRounds rounds and the
// model is truncated to its best round.
func Train(ctx context.Context, p Params, train Dataset, valid *Dataset, opts ...Option) (*Model, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	width, err := train.validate(p.NumClass)
	if err != nil {
		return nil, fmt.Errorf("training set: %w", err)
	}
	if valid != nil {
		if len(valid.X) == 0 {
			valid = nil
		} else {
			vw, err := valid.validate(p.NumClass)
			if err != nil {
				return nil, fmt.Errorf("validation set: %w", err)
			}
			if vw != width {
				return nil, fmt.Errorf("%w: validation rows have %d features, training rows %d", common.ErrSchemaMismatch, vw, width)
			}
		}
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	rng := rand.New(rand.NewSource(p.Seed)) //nolint:gosec // reproducible training, not security
	k := p.NumClass
	n := len(train.X)

	m := &Model{
		NumClass:    k,
		NumFeatures: width,
		InitScores:  make([]float64, k),
	}

	trainScores := newScores(n, k)
	var validScores [][]float64
	if valid != nil {
		validScores = newScores(len(valid.X), k)
	}

	b := &builder{
		x:       train.X,
		params:  p,
		grad:    make([]float64, n),
		hess:    make([]float64, n),
		minHess: math.Max(p.MinSumHessian, 0),
	}
	minData := p.MinDataInLeaf
	if minData < 1 {
		minData = 1
	}
	b.minData = minData

	bag := allRows(n)
	bestLoss := math.Inf(1)
	best := 0
	factor := float64(k) / float64(k-1)

	for round := 0; round < p.NumRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if p.BaggingFraction < 1 && p.BaggingFreq > 0 && round%p.BaggingFreq == 0 {
			bag = sample(rng, n, int(math.Ceil(float64(n)*p.BaggingFraction)))
		}

		probs := softmaxRows(trainScores)
		trees := make([]Tree, k)
		for c := 0; c < k; c++ {
			for i := 0; i < n; i++ {
				y := 0.0
				if train.Y[i] == c {
					y = 1
				}
				w := train.weight(i)
				pc := probs[i][c]
				b.grad[i] = w * (pc - y)
				b.hess[i] = math.Max(w*factor*pc*(1-pc), 1e-16)
			}
			features := sample(rng, width, int(math.Ceil(float64(width)*p.FeatureFraction)))
			trees[c] = b.build(bag, features)

			for i := 0; i < n; i++ {
				trainScores[i][c] += trees[c].Predict(train.X[i])
			}
			if valid != nil {
				for i := range valid.X {
					validScores[i][c] += trees[c].Predict(valid.X[i])
				}
			}
		}
		m.Rounds = append(m.Rounds, trees)

		prog := Progress{
			Round:     round + 1,
			TrainLoss: MultiLogLoss(softmaxRows(trainScores), train.Y, train.Weights),
		}
		stop := false
		if valid != nil {
			loss := MultiLogLoss(softmaxRows(validScores), valid.Y, valid.Weights)
			prog.HasValid = true
			prog.ValidLoss = loss
			if loss < bestLoss {
				bestLoss = loss
				best = round + 1
			}
			if p.EarlyStoppingRounds > 0 && round+1-best >= p.EarlyStoppingRounds {
				stop = true
			}
		} else {
			best = round + 1
		}
		prog.BestIteration = best
		if o.progress != nil {
			o.progress(prog)
		}
		if stop {
			break
		}
	}

	if best > 0 && best < len(m.Rounds) {
		m.Rounds = m.Rounds[:best]
	}
	m.BestIteration = len(m.Rounds)
	return m, nil
}

func newScores(n, k int) [][]float64 {
	s := make([][]float64, n)
	for i := range s {
		s[i] = make([]float64, k)
	}
	return s
}

func softmaxRows(scores [][]float64) [][]float64 {
	out := make([][]float64, len(scores))
	for i, s := range scores {
		out[i] = Softmax(s)
	}
	return out
}

func allRows(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// sample draws size distinct values from [0,n) and returns them sorted.
func sample(rng *rand.Rand, n, size int) []int {
	if size >= n {
		return allRows(n)
	}
	if size < 1 {
		size = 1
	}
	idx := rng.Perm(n)[:size]
	sort.Ints(idx)
	return idx
}

// builder grows one tree leaf-wise on the current gradients.
type builder struct {
	x       [][]float64
	grad    []float64
	hess    []float64
	params  Params
	minData int
	minHess float64
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	ok        bool
}

type leafCandidate struct {
	rows  []int
	split split
	node  int
	depth int
}

func (b *builder) sums(rows []int) (g, h float64) {
	for _, i := range rows {
		g += b.grad[i]
		h += b.hess[i]
	}
	return g, h
}

func (b *builder) leafValue(rows []int) float64 {
	g, h := b.sums(rows)
	return -g / (h + b.params.Lambda) * b.params.LearningRate
}

func (b *builder) canSplit(rows []int, depth int) bool {
	if b.params.MaxDepth > 0 && depth >= b.params.MaxDepth {
		return false
	}
	return len(rows) >= 2*b.minData
}

// bestSplit scans every candidate feature exhaustively. Thresholds sit
// midway between adjacent distinct values.
func (b *builder) bestSplit(rows []int, features []int) split {
	g, h := b.sums(rows)
	lambda := b.params.Lambda
	parent := g * g / (h + lambda)

	best := split{}
	sorted := make([]int, len(rows))
	for _, f := range features {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool { return b.x[sorted[i]][f] < b.x[sorted[j]][f] })

		var gl, hl float64
		for pos := 0; pos < len(sorted)-1; pos++ {
			i := sorted[pos]
			gl += b.grad[i]
			hl += b.hess[i]

			left := pos + 1
			if left < b.minData {
				continue
			}
			if len(sorted)-left < b.minData {
				break
			}
			cur, next := b.x[i][f], b.x[sorted[pos+1]][f]
			if cur == next {
				continue
			}
			gr, hr := g-gl, h-hl
			if hl < b.minHess || hr < b.minHess {
				continue
			}
			gain := gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - parent
			if gain > best.gain {
				best = split{feature: f, threshold: (cur + next) / 2, gain: gain, ok: true}
			}
		}
	}
	if best.gain <= 1e-12 {
		best.ok = false
	}
	return best
}

func (b *builder) candidate(rows []int, node, depth int, features []int) leafCandidate {
	c := leafCandidate{rows: rows, node: node, depth: depth}
	if b.canSplit(rows, depth) {
		c.split = b.bestSplit(rows, features)
	}
	return c
}

func (b *builder) build(rows []int, features []int) Tree {
	t := Tree{Nodes: []Node{{Left: -1, Right: -1, Value: b.leafValue(rows)}}}
	if len(rows) == 0 {
		return t
	}

	open := []leafCandidate{b.candidate(rows, 0, 0, features)}
	leaves := 1
	for leaves < b.params.NumLeaves {
		pick := -1
		for i, c := range open {
			if c.split.ok && (pick < 0 || c.split.gain > open[pick].split.gain) {
				pick = i
			}
		}
		if pick < 0 {
			break
		}
		c := open[pick]
		open = append(open[:pick], open[pick+1:]...)

		var left, right []int
		for _, i := range c.rows {
			if b.x[i][c.split.feature] <= c.split.threshold {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}

		li, ri := len(t.Nodes), len(t.Nodes)+1
		t.Nodes[c.node].Feature = c.split.feature
		t.Nodes[c.node].Threshold = c.split.threshold
		t.Nodes[c.node].Left = li
		t.Nodes[c.node].Right = ri
		t.Nodes[c.node].Value = 0
		t.Nodes = append(t.Nodes,
			Node{Left: -1, Right: -1, Value: b.leafValue(left)},
			Node{Left: -1, Right: -1, Value: b.leafValue(right)},
		)
		leaves++

		open = append(open,
			b.candidate(left, li, c.depth+1, features),
			b.candidate(right, ri, c.depth+1, features),
		)
	}
	return t
}
