// Package dataset holds tabular feature data: an in-memory string table,
// CSV import/export, and stratified train/val/test splitting.
package dataset

import (
	"fmt"
	"strconv"
	"strings"
)

// Well-known columns.
const (
	ColumnSessionID = "session_id"
	ColumnLabel     = "result_label"
	ColumnTopTerms  = "top_terms"
)

// Table is a rectangular table of string cells. An empty cell is a missing value.
type Table struct {
	index   map[string]int
	Columns []string
	Rows    [][]string
}

// NewTable creates an empty table with the given header.
func NewTable(columns []string) *Table {
	t := &Table{Columns: append([]string(nil), columns...)}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if _, dup := t.index[c]; !dup {
			t.index[c] = i
		}
	}
}

// Append adds a row. The row must match the header width.
func (t *Table) Append(row []string) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("row has %d cells, table has %d columns", len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, append([]string(nil), row...))
	return nil
}

// AppendRecord adds a row from a column-keyed record; absent columns are empty.
func (t *Table) AppendRecord(record map[string]string) {
	row := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		row[i] = record[c]
	}
	t.Rows = append(t.Rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Has reports whether the column exists.
func (t *Table) Has(column string) bool {
	_, ok := t.index[column]
	return ok
}

// Index returns the position of column or -1.
func (t *Table) Index(column string) int {
	if i, ok := t.index[column]; ok {
		return i
	}
	return -1
}

// Value returns the cell at row for column, or "" if the column is absent.
func (t *Table) Value(row int, column string) string {
	i := t.Index(column)
	if i < 0 || row < 0 || row >= len(t.Rows) {
		return ""
	}
	return t.Rows[row][i]
}

// Column returns a copy of every cell in column.
func (t *Table) Column(column string) ([]string, bool) {
	i := t.Index(column)
	if i < 0 {
		return nil, false
	}
	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out, true
}

// Record returns row as a column-keyed map.
func (t *Table) Record(row int) map[string]string {
	rec := make(map[string]string, len(t.Columns))
	for i, c := range t.Columns {
		rec[c] = t.Rows[row][i]
	}
	return rec
}

// RawRecord returns row as a map suitable for schema alignment: numeric cells
// become float64, empty cells are omitted, everything else stays a string.
func (t *Table) RawRecord(row int) map[string]any {
	rec := make(map[string]any, len(t.Columns))
	for i, c := range t.Columns {
		cell := strings.TrimSpace(t.Rows[row][i])
		if IsMissing(cell) {
			continue
		}
		if f, err := strconv.ParseFloat(cell, 64); err == nil {
			rec[c] = f
			continue
		}
		rec[c] = cell
	}
	return rec
}

// Subset returns a new table with the rows at idx, in that order.
func (t *Table) Subset(idx []int) *Table {
	out := NewTable(t.Columns)
	out.Rows = make([][]string, 0, len(idx))
	for _, i := range idx {
		out.Rows = append(out.Rows, append([]string(nil), t.Rows[i]...))
	}
	return out
}

// MissingRatio returns the share of empty cells in column.
func (t *Table) MissingRatio(column string) float64 {
	cells, ok := t.Column(column)
	if !ok || len(cells) == 0 {
		return 1
	}
	missing := 0
	for _, c := range cells {
		if IsMissing(c) {
			missing++
		}
	}
	return float64(missing) / float64(len(cells))
}

// IsMissing reports whether a cell holds no value.
func IsMissing(cell string) bool {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "", "nan", "null", "none":
		return true
	default:
		return false
	}
}
