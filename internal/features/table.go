package features

import (
	"strconv"
	"strings"

	"github.com/Veraticus/callscore/internal/dataset"
	"github.com/Veraticus/callscore/internal/model"
)

// TermSeparator joins top terms in a single table cell.
const TermSeparator = ", "

// Table renders vectors as a feature table: session_id, numeric features,
// categorical features, top_terms and, when withLabel is set, result_label.
func (e *Extractor) Table(vectors []model.FeatureVector, withLabel bool) *dataset.Table {
	columns := []string{dataset.ColumnSessionID}
	columns = append(columns, e.numeric...)
	columns = append(columns, e.categorical...)
	columns = append(columns, dataset.ColumnTopTerms)
	if withLabel {
		columns = append(columns, dataset.ColumnLabel)
	}

	t := dataset.NewTable(columns)
	for _, v := range vectors {
		rec := make(map[string]string, len(columns))
		rec[dataset.ColumnSessionID] = v.SessionID
		for _, name := range e.numeric {
			rec[name] = strconv.FormatFloat(v.Values[name], 'f', -1, 64)
		}
		for _, name := range e.categorical {
			cat := v.Categorical[name]
			if cat == "" {
				cat = model.MissingCategory
			}
			rec[name] = cat
		}
		rec[dataset.ColumnTopTerms] = strings.Join(v.TopTerms, TermSeparator)
		if withLabel {
			rec[dataset.ColumnLabel] = v.Label
		}
		t.AppendRecord(rec)
	}
	return t
}
