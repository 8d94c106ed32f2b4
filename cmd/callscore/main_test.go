package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Veraticus/callscore/internal/dataset"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type workspace struct {
	root    string
	config  string
	data    string
	output  string
	dataset string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	root := t.TempDir()
	ws := workspace{
		root:    root,
		config:  filepath.Join(root, "config.yaml"),
		data:    filepath.Join(root, "data"),
		output:  filepath.Join(root, "output"),
		dataset: filepath.Join(root, "dataset"),
	}
	yaml := fmt.Sprintf(`paths:
  data_dir: %s
  output_dir: %s
  dataset_dir: %s
  model_dir: %s
database:
  path: %s
logging:
  level: error
`, ws.data, ws.output, ws.dataset, filepath.Join(root, "model"), filepath.Join(root, "callscore.db"))
	require.NoError(t, os.WriteFile(ws.config, []byte(yaml), 0600))
	require.NoError(t, os.MkdirAll(ws.data, 0750))
	return ws
}

func (ws workspace) write(t *testing.T, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(ws.data, name), []byte(body), 0600))
}

func execute(t *testing.T, ws workspace, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(append([]string{"--config", ws.config}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// resetFlags restores flag defaults, since rootCmd is shared between runs.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

const (
	classificationDoc = `{"consulting_content": "상담사: 안녕하세요\n고객: 요금이 이상해요\n상담사: 확인해 드리겠습니다", "consulting_category": "billing", "instructions": [{"task_category": "상담 결과", "output": "satisfied"}]}`
	summaryDoc        = `{"consulting_content": "상담사: 안녕하세요\n고객: 요금이 이상해요\n상담사: 확인해 드리겠습니다", "instructions": [{"task_category": "요약", "output": "요금 문의"}]}`
)

func TestAssembleAndExtract(t *testing.T) {
	ws := newWorkspace(t)
	ws.write(t, "분류_100.json", classificationDoc)
	ws.write(t, "요약_100.json", summaryDoc)

	out, err := execute(t, ws, "assemble")
	require.NoError(t, err, out)
	assert.Contains(t, out, "100")
	assert.FileExists(t, filepath.Join(ws.output, "final_merged_100.json"))
	assert.FileExists(t, filepath.Join(ws.output, "merged_classification_100.json"))

	out, err = execute(t, ws, "extract")
	require.NoError(t, err, out)

	table, err := dataset.ReadCSVFile(filepath.Join(ws.dataset, "features.csv"))
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())
	assert.Equal(t, "100", table.Value(0, dataset.ColumnSessionID))
	assert.Equal(t, "satisfied", table.Value(0, dataset.ColumnLabel))
	assert.Equal(t, "billing", table.Value(0, "consulting_category"))
}

func TestAssembleReportsUnparsableFiles(t *testing.T) {
	ws := newWorkspace(t)
	ws.write(t, "분류_100.json", classificationDoc)
	ws.write(t, "분류_101.json", `{"consulting_content":`)

	_, err := execute(t, ws, "assemble")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 submission files could not be parsed")
	assert.FileExists(t, filepath.Join(ws.output, "final_merged_100.json"))
}

func TestMigrateAndStatus(t *testing.T) {
	ws := newWorkspace(t)

	out, err := execute(t, ws, "migrate")
	require.NoError(t, err, out)
	assert.Contains(t, out, "schema version 2")

	out, err = execute(t, ws, "status", "999")
	require.Error(t, err)
	assert.Contains(t, out, "not_found")
}

func TestProcessWithoutModel(t *testing.T) {
	ws := newWorkspace(t)
	ws.write(t, "분류_100.json", classificationDoc)

	_, err := execute(t, ws, "process", filepath.Join(ws.data, "분류_100.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "callscore train")
}

func TestResetUnknownSession(t *testing.T) {
	ws := newWorkspace(t)

	_, err := execute(t, ws, "reset", "404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestVersion(t *testing.T) {
	ws := newWorkspace(t)

	out, err := execute(t, ws, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "callscore dev")
}

func TestExtractFromDBKeepsLatestRowPerSession(t *testing.T) {
	ws := newWorkspace(t)
	ws.write(t, "분류_100.json", classificationDoc)
	ws.write(t, "요약_100.json", summaryDoc)

	for i := 0; i < 2; i++ {
		out, err := execute(t, ws, "extract", "--record")
		require.NoError(t, err, out)
	}

	exported := filepath.Join(ws.root, "fromdb.csv")
	out, err := execute(t, ws, "extract", "--from-db", "-o", exported)
	require.NoError(t, err, out)

	table, err := dataset.ReadCSVFile(exported)
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())
	assert.Equal(t, "100", table.Value(0, dataset.ColumnSessionID))
	assert.Equal(t, "satisfied", table.Value(0, dataset.ColumnLabel))
}
