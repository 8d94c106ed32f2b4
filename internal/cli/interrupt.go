package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler cancels a command's context on SIGINT or SIGTERM and
// tells the operator what happened.
type InterruptHandler struct {
	writer      io.Writer
	sigs        chan os.Signal
	task        string
	hint        string
	interrupted bool
	mu          sync.Mutex
}

// NewInterruptHandler creates a handler that reports to writer (stderr when nil).
func NewInterruptHandler(writer io.Writer) *InterruptHandler {
	if writer == nil {
		writer = os.Stderr
	}
	return &InterruptHandler{
		writer: writer,
		sigs:   make(chan os.Signal, 1),
	}
}

// HandleInterrupts returns a context that is cancelled on the first
// interrupt. task names the interrupted work; hint, when set, is printed
// below the notice. Call the returned cancel func to stop listening.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context, task, hint string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	h.task = task
	h.hint = hint

	signal.Notify(h.sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(h.sigs)
		select {
		case <-h.sigs:
			h.mu.Lock()
			if !h.interrupted {
				h.interrupted = true
				h.showInterruptMessage()
			}
			h.mu.Unlock()
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func (h *InterruptHandler) showInterruptMessage() {
	msg := "\n" + FormatWarning(h.task+" interrupted")
	if h.hint != "" {
		msg += "\n" + FormatInfo(h.hint)
	}
	msg += "\n"

	if _, err := fmt.Fprint(h.writer, msg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write interrupt message: %v\n", err)
	}
}

// WasInterrupted reports whether a signal was received.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}
