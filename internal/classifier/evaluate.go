package classifier

import "fmt"

// ClassMetrics are the one-vs-rest metrics of one label.
type ClassMetrics struct {
	Label     string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// EvalReport summarises predictions against ground truth.
type EvalReport struct {
	Confusion [][]int
	PerClass  []ClassMetrics
	Accuracy  float64
	Support   int
}

// NewEvalReport compares predicted and true class ids.
func NewEvalReport(labels []string, truth, predicted []int) (*EvalReport, error) {
	if len(truth) != len(predicted) {
		return nil, fmt.Errorf("%d true labels but %d predictions", len(truth), len(predicted))
	}
	k := len(labels)
	confusion := make([][]int, k)
	for i := range confusion {
		confusion[i] = make([]int, k)
	}

	correct := 0
	for i := range truth {
		if truth[i] < 0 || truth[i] >= k || predicted[i] < 0 || predicted[i] >= k {
			return nil, fmt.Errorf("class id out of range at row %d", i)
		}
		confusion[truth[i]][predicted[i]]++
		if truth[i] == predicted[i] {
			correct++
		}
	}

	r := &EvalReport{Confusion: confusion, Support: len(truth)}
	if len(truth) > 0 {
		r.Accuracy = float64(correct) / float64(len(truth))
	}

	for c := 0; c < k; c++ {
		tp := confusion[c][c]
		var predictedC, actualC int
		for j := 0; j < k; j++ {
			predictedC += confusion[j][c]
			actualC += confusion[c][j]
		}
		m := ClassMetrics{Label: labels[c], Support: actualC}
		if predictedC > 0 {
			m.Precision = float64(tp) / float64(predictedC)
		}
		if actualC > 0 {
			m.Recall = float64(tp) / float64(actualC)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.PerClass = append(r.PerClass, m)
	}
	return r, nil
}
