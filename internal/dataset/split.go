package dataset

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"github.com/Veraticus/callscore/internal/common"
)

// Split is a train/validation/test partition of one table.
type Split struct {
	Train *Table
	Val   *Table
	Test  *Table
}

// StratifiedSplit partitions t so each label keeps its share in every part.
// Rows without a label are dropped. The same seed always yields the same split.
func StratifiedSplit(t *Table, labelColumn string, valSize, testSize float64, seed int64) (Split, error) {
	if !t.Has(labelColumn) {
		return Split{}, fmt.Errorf("label column %q not found", labelColumn)
	}
	if valSize < 0 || testSize < 0 || valSize+testSize >= 1 {
		return Split{}, fmt.Errorf("%w: val %.2f + test %.2f must be below 1", common.ErrInvalidConfig, valSize, testSize)
	}

	byLabel := make(map[string][]int)
	dropped := 0
	for i := range t.Rows {
		label := t.Value(i, labelColumn)
		if IsMissing(label) {
			dropped++
			continue
		}
		byLabel[label] = append(byLabel[label], i)
	}
	if dropped > 0 {
		slog.Warn("dropping rows without a label", "rows", dropped)
	}
	if len(byLabel) == 0 {
		return Split{}, common.ErrNoTrainingData
	}

	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible split, not security
	var train, val, test []int
	for _, l := range labels {
		idx := byLabel[l]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		n := len(idx)
		nTest := int(math.Round(float64(n) * testSize))
		nVal := int(math.Round(float64(n) * valSize))
		for nTest+nVal >= n && (nTest > 0 || nVal > 0) {
			if nTest >= nVal && nTest > 0 {
				nTest--
			} else {
				nVal--
			}
		}

		test = append(test, idx[:nTest]...)
		val = append(val, idx[nTest:nTest+nVal]...)
		train = append(train, idx[nTest+nVal:]...)
	}

	sort.Ints(train)
	sort.Ints(val)
	sort.Ints(test)

	return Split{
		Train: t.Subset(train),
		Val:   t.Subset(val),
		Test:  t.Subset(test),
	}, nil
}
