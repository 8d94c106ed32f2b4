package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Veraticus/callscore/internal/gbm"
	"github.com/stretchr/testify/assert"
)

func TestRenderTable(t *testing.T) {
	out := RenderTable(
		[]string{"session", "label", "confidence"},
		[][]string{{"100", "satisfied", "0.91"}, {"101"}},
		[]Alignment{AlignLeft, AlignLeft, AlignRight},
	)

	assert.Contains(t, out, "session")
	assert.Contains(t, out, "satisfied")
	assert.Contains(t, out, "101")
	assert.Equal(t, 6, len(strings.Split(strings.TrimSpace(out), "\n")))
}

func TestRenderTable_NoHeaders(t *testing.T) {
	assert.Empty(t, RenderTable(nil, [][]string{{"x"}}, nil))
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))
}

func TestRoundProgress_NonTerminal(t *testing.T) {
	var buf bytes.Buffer
	rp := NewRoundProgress(&buf, 3)
	assert.Nil(t, rp.bar)

	for i := 1; i <= 3; i++ {
		rp.Update(gbm.Progress{Round: i, TrainLoss: 1.0 / float64(i)})
	}
	rp.Finish()
	assert.Empty(t, buf.String())
}

func TestStatusStyle(t *testing.T) {
	tests := []struct {
		status string
		want   string
	}{
		{status: "completed", want: SuccessStyle.Render("x")},
		{status: "failed", want: ErrorStyle.Render("x")},
		{status: "partial", want: WarningStyle.Render("x")},
		{status: "not_found", want: SubtleStyle.Render("x")},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusStyle(tt.status).Render("x"))
		})
	}
}
