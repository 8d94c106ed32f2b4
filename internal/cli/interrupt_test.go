package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer provides thread-safe access to a bytes.Buffer.
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (s *syncBuffer) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestNewInterruptHandler(t *testing.T) {
	handler := NewInterruptHandler(nil)
	assert.NotNil(t, handler.writer)
	assert.False(t, handler.WasInterrupted())
}

func TestHandleInterrupts(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	ctx, cancel := handler.HandleInterrupts(context.Background(), "Watch", "Sessions already processed are stored.")
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("context cancelled before any signal")
	default:
	}

	handler.sigs <- syscall.SIGINT

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context was not cancelled")
	}
	require.Eventually(t, handler.WasInterrupted, time.Second, 5*time.Millisecond)

	out := output.String()
	assert.Equal(t, 1, strings.Count(out, "Watch interrupted"))
	assert.Contains(t, out, "Sessions already processed are stored.")
}

func TestHandleInterrupts_CancelWithoutSignal(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	_, cancel := handler.HandleInterrupts(context.Background(), "Train", "")
	cancel()
	time.Sleep(20 * time.Millisecond)

	assert.False(t, handler.WasInterrupted())
	assert.Empty(t, output.String())
}

func TestShowInterruptMessage(t *testing.T) {
	tests := []struct {
		name        string
		hint        string
		expected    []string
		notExpected []string
	}{
		{
			name:     "with hint",
			hint:     "Resume with: callscore watch",
			expected: []string{"Batch interrupted", "Resume with: callscore watch"},
		},
		{
			name:        "without hint",
			expected:    []string{"Batch interrupted"},
			notExpected: []string{"Resume with"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var output bytes.Buffer
			handler := &InterruptHandler{writer: &output, task: "Batch", hint: tt.hint}

			handler.showInterruptMessage()

			for _, s := range tt.expected {
				assert.Contains(t, output.String(), s)
			}
			for _, s := range tt.notExpected {
				assert.NotContains(t, output.String(), s)
			}
		})
	}
}
