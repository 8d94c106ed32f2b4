package assembler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser() *Parser {
	return NewParser(config.Default().Assembly)
}

func TestParser_DetectTaskType(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name   string
		file   string
		want   model.TaskType
		wantOK bool
	}{
		{name: "english classification", file: "classification_100_1.json", want: model.TaskClassification, wantOK: true},
		{name: "upper case", file: "SUMMARY_100_1.json", want: model.TaskSummary, wantOK: true},
		{name: "korean summary", file: "상담_요약_100_2.json", want: model.TaskSummary, wantOK: true},
		{name: "korean qa", file: "질의응답_55.json", want: model.TaskQA, wantOK: true},
		{name: "qna", file: "qna_55_1.json", want: model.TaskQA, wantOK: true},
		{name: "classification wins over qa", file: "class_qa_1.json", want: model.TaskClassification, wantOK: true},
		{name: "directory ignored", file: filepath.Join("summary", "record_1.json"), wantOK: false},
		{name: "nothing", file: "record_1.json", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.DetectTaskType(tt.file)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParser_ParseSessionIDAndSequence(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		file    string
		wantID  string
		wantSeq int
	}{
		{file: "classification_100_3.json", wantID: "100", wantSeq: 3},
		{file: "summary_100.json", wantID: "100", wantSeq: 100},
		{file: "qa-session42-part7.json", wantID: "42", wantSeq: 7},
		{file: "qa_abc.json", wantID: model.UnknownSessionID, wantSeq: 0},
		{file: "2024_summary_88_1.json", wantID: "2024", wantSeq: 1},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			assert.Equal(t, tt.wantID, p.ParseSessionID(tt.file))
			assert.Equal(t, tt.wantSeq, p.ParseSequence(tt.file))
		})
	}
}

func TestParser_Parse(t *testing.T) {
	p := newTestParser()

	t.Run("flat items and file name defaults", func(t *testing.T) {
		data := []byte(`{
			"consulting_content": "A: hi\nB: hi",
			"consulting_category": "billing",
			"input": "drop me",
			"instructions": [{"task_category": "result", "output": "satisfied", "input": "drop"}]
		}`)

		got, err := p.Parse("classification_100_2.json", data)
		require.NoError(t, err)

		assert.Equal(t, "100", got.SessionID)
		assert.Equal(t, model.TaskClassification, got.TaskType)
		assert.Equal(t, "A: hi\nB: hi", got.TranscriptText)
		assert.Equal(t, 2, got.Sequence)
		assert.Equal(t, "classification_100_2.json", got.Source)
		assert.Equal(t, map[string]any{"consulting_category": "billing"}, got.Metadata)
		require.Len(t, got.Items, 1)
		assert.Equal(t, model.InstructionItem{"task_category": "result", "output": "satisfied"}, got.Items[0])
	})

	t.Run("array with block items and content session id", func(t *testing.T) {
		data := []byte(`[{
			"session_id": 777,
			"consulting_content": "t",
			"instructions": [{"tuning_type": "summary", "data": [{"output": "a"}, {"output": "b"}]}]
		}, {"ignored": true}]`)

		got, err := p.Parse("upload_1_2.json", data)
		require.NoError(t, err)

		assert.Equal(t, "777", got.SessionID)
		assert.Equal(t, model.TaskSummary, got.TaskType)
		require.Len(t, got.Items, 2)
		assert.Equal(t, "b", got.Items[1].Output())
		assert.Equal(t, json.Number("777"), got.Metadata["session_id"])
	})

	t.Run("task type from content field", func(t *testing.T) {
		got, err := p.Parse("upload_5.json", []byte(`{"task_type": "QA", "consulting_content": "t"}`))
		require.NoError(t, err)
		assert.Equal(t, model.TaskQA, got.TaskType)
		assert.Empty(t, got.Items)
	})

	errorCases := []struct {
		name    string
		file    string
		data    string
		wantErr error
	}{
		{name: "unknown task type", file: "upload_5.json", data: `{"consulting_content": "t"}`, wantErr: common.ErrUnknownTaskType},
		{name: "bad json", file: "qa_5.json", data: `{"consulting_content":`, wantErr: common.ErrMalformedSubmission},
		{name: "empty array", file: "qa_5.json", data: `[]`, wantErr: common.ErrMalformedSubmission},
		{name: "scalar", file: "qa_5.json", data: `"text"`, wantErr: common.ErrMalformedSubmission},
		{name: "instructions not array", file: "qa_5.json", data: `{"instructions": {}}`, wantErr: common.ErrMalformedSubmission},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.file, []byte(tt.data))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParser_LoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"classification_100_1.json": `{"consulting_content": "t", "instructions": [{"task_category": "result", "output": "satisfied"}]}`,
		"summary_100_1.json":        `{"consulting_content": "t", "instructions": [{"task_category": "summary", "output": "s"}]}`,
		"mystery_100_1.json":        `{"consulting_content": "t"}`,
		"qa_100_1.json":             `{broken`,
		"notes.txt":                 `ignored`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0600))
	}

	raws, errs := newTestParser().LoadDir(dir)

	require.Len(t, raws, 2)
	assert.Equal(t, model.TaskClassification, raws[0].TaskType)
	assert.Equal(t, model.TaskSummary, raws[1].TaskType)
	assert.Len(t, errs, 2)
}

func TestParser_LoadDirMissing(t *testing.T) {
	raws, errs := newTestParser().LoadDir(filepath.Join(t.TempDir(), "absent"))
	assert.Nil(t, raws)
	assert.Len(t, errs, 1)
}

func TestParser_ParseDocument(t *testing.T) {
	p := newTestParser()

	t.Run("combined document splits by tuning type", func(t *testing.T) {
		data := []byte(`{
			"session_id": "40001",
			"consulting_content": "상담사: 안녕하세요\n고객: 네",
			"instructions": [
				{"tuning_type": "질의응답", "data": [{"question": "q", "answer": "a"}]},
				{"tuning_type": "분류", "data": [{"task_category": "상담 결과", "output": "만족"}]},
				{"tuning_type": "summary", "data": [{"task_category": "summary", "output": "요약문"}]}
			]
		}`)

		raws, err := p.ParseDocument("upload.json", data, "")
		require.NoError(t, err)
		require.Len(t, raws, 3)

		assert.Equal(t, model.TaskClassification, raws[0].TaskType)
		assert.Equal(t, model.TaskSummary, raws[1].TaskType)
		assert.Equal(t, model.TaskQA, raws[2].TaskType)
		for _, raw := range raws {
			assert.Equal(t, "40001", raw.SessionID)
			assert.Equal(t, "상담사: 안녕하세요\n고객: 네", raw.TranscriptText)
			require.Len(t, raw.Items, 1)
		}
		assert.Equal(t, "만족", raws[0].Items[0].Output())
	})

	t.Run("caller session id wins", func(t *testing.T) {
		raws, err := p.ParseDocument("upload.json", []byte(`{
			"session_id": "1",
			"instructions": [{"tuning_type": "분류", "data": []}]
		}`), "abc")
		require.NoError(t, err)
		require.Len(t, raws, 1)
		assert.Equal(t, "abc", raws[0].SessionID)
	})

	t.Run("single typed file falls back to Parse", func(t *testing.T) {
		raws, err := p.ParseDocument("qa_12_1.json", []byte(`{"consulting_content": "t"}`), "")
		require.NoError(t, err)
		require.Len(t, raws, 1)
		assert.Equal(t, model.TaskQA, raws[0].TaskType)
		assert.Equal(t, "12", raws[0].SessionID)
	})

	t.Run("undetectable", func(t *testing.T) {
		_, err := p.ParseDocument("upload.json", []byte(`{"consulting_content": "t"}`), "5")
		assert.ErrorIs(t, err, common.ErrUnknownTaskType)
	})
}
