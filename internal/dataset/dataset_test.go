package dataset

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		wantCols []string
		wantRows int
		wantErr  bool
	}{
		{
			name:     "plain",
			input:    []byte("session_id,turn_count\n1,3\n2,4\n"),
			wantCols: []string{"session_id", "turn_count"},
			wantRows: 2,
		},
		{
			name:     "utf8 bom stripped",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("session_id,상담결과\n1,satisfied\n")...),
			wantCols: []string{"session_id", "상담결과"},
			wantRows: 1,
		},
		{
			name:     "short rows padded",
			input:    []byte("a,b,c\n1\n"),
			wantCols: []string{"a", "b", "c"},
			wantRows: 1,
		},
		{
			name:    "long row rejected",
			input:   []byte("a\n1,2\n"),
			wantErr: true,
		},
		{
			name:    "empty input",
			input:   nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ReadCSV(bytes.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCols, table.Columns)
			assert.Equal(t, tt.wantRows, table.Len())
			for _, row := range table.Rows {
				assert.Len(t, row, len(tt.wantCols))
			}
		})
	}
}

func TestWriteCSVFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "train.csv")
	table := NewTable([]string{"session_id", "top_terms", "result_label"})
	require.NoError(t, table.Append([]string{"1", "환불 요청, 배송", "satisfied"}))
	require.NoError(t, table.Append([]string{"2", "", "unresolved"}))

	require.NoError(t, table.WriteCSVFile(path))

	got, err := ReadCSVFile(path)
	require.NoError(t, err)
	assert.Equal(t, table.Columns, got.Columns)
	assert.Equal(t, table.Rows, got.Rows)
}

func TestTableAccessors(t *testing.T) {
	table := NewTable([]string{"session_id", "turn_count", "category"})
	require.NoError(t, table.Append([]string{"1", "3", "billing"}))
	table.AppendRecord(map[string]string{"session_id": "2", "turn_count": "NaN"})
	assert.Error(t, table.Append([]string{"too", "short"}))

	assert.Equal(t, 2, table.Len())
	assert.Equal(t, -1, table.Index("absent"))
	assert.Equal(t, "billing", table.Value(0, "category"))
	assert.Equal(t, "", table.Value(0, "absent"))
	assert.InDelta(t, 0.5, table.MissingRatio("turn_count"), 1e-9)
	assert.InDelta(t, 0.5, table.MissingRatio("category"), 1e-9)

	raw := table.RawRecord(0)
	assert.Equal(t, map[string]any{"session_id": 1.0, "turn_count": 3.0, "category": "billing"}, raw)
	assert.Equal(t, map[string]any{"session_id": 2.0}, table.RawRecord(1))

	sub := table.Subset([]int{1})
	assert.Equal(t, "2", sub.Value(0, "session_id"))
	sub.Rows[0][0] = "changed"
	assert.Equal(t, "2", table.Value(1, "session_id"), "subset copies rows")
}

func labelledTable(t *testing.T, counts map[string]int) *Table {
	t.Helper()
	table := NewTable([]string{ColumnSessionID, ColumnLabel})
	id := 0
	for _, label := range []string{"satisfied", "inadequate", "unresolved", "needs-follow-up"} {
		for i := 0; i < counts[label]; i++ {
			id++
			require.NoError(t, table.Append([]string{fmt.Sprint(id), label}))
		}
	}
	return table
}

func TestStratifiedSplit(t *testing.T) {
	table := labelledTable(t, map[string]int{"satisfied": 50, "inadequate": 20, "unresolved": 10, "needs-follow-up": 5})

	split, err := StratifiedSplit(table, ColumnLabel, 0.2, 0.2, 42)
	require.NoError(t, err)

	assert.Equal(t, table.Len(), split.Train.Len()+split.Val.Len()+split.Test.Len())

	count := func(tb *Table, label string) int {
		n := 0
		col, _ := tb.Column(ColumnLabel)
		for _, c := range col {
			if c == label {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 10, count(split.Test, "satisfied"))
	assert.Equal(t, 10, count(split.Val, "satisfied"))
	assert.Equal(t, 30, count(split.Train, "satisfied"))
	assert.Equal(t, 2, count(split.Test, "unresolved"))

	again, err := StratifiedSplit(table, ColumnLabel, 0.2, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, split.Test.Rows, again.Test.Rows)

	seen := make(map[string]bool)
	for _, part := range []*Table{split.Train, split.Val, split.Test} {
		ids, _ := part.Column(ColumnSessionID)
		for _, id := range ids {
			assert.False(t, seen[id], "row %s in two splits", id)
			seen[id] = true
		}
	}
}

func TestStratifiedSplitKeepsTinyClassesInTrain(t *testing.T) {
	table := labelledTable(t, map[string]int{"satisfied": 1, "inadequate": 2})

	split, err := StratifiedSplit(table, ColumnLabel, 0.4, 0.4, 1)
	require.NoError(t, err)

	col, _ := split.Train.Column(ColumnLabel)
	assert.Contains(t, col, "satisfied")
	assert.Contains(t, col, "inadequate")
}

func TestStratifiedSplitErrors(t *testing.T) {
	table := NewTable([]string{ColumnSessionID, ColumnLabel})
	require.NoError(t, table.Append([]string{"1", ""}))

	_, err := StratifiedSplit(table, ColumnLabel, 0.2, 0.2, 1)
	assert.ErrorIs(t, err, common.ErrNoTrainingData)

	_, err = StratifiedSplit(table, "missing", 0.2, 0.2, 1)
	assert.Error(t, err)

	_, err = StratifiedSplit(table, ColumnLabel, 0.5, 0.5, 1)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestIsMissing(t *testing.T) {
	for _, cell := range []string{"", " ", "NaN", "null", "None"} {
		assert.True(t, IsMissing(cell), cell)
	}
	assert.False(t, IsMissing("0"))
}
