package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Veraticus/callscore/internal/gbm"
	"github.com/schollz/progressbar/v3"
)

// RoundProgress shows boosting rounds as a progress bar. On a non-terminal
// writer it logs every tenth round instead.
type RoundProgress struct {
	bar   *progressbar.ProgressBar
	total int
}

// NewRoundProgress creates a tracker for total rounds written to w.
func NewRoundProgress(w io.Writer, total int) *RoundProgress {
	rp := &RoundProgress{total: total}
	if !IsTerminal(w) {
		return rp
	}
	rp.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Training...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("failed to write newline after progress bar", "error", err)
			}
		}),
	)
	return rp
}

// Update records one finished round. It matches the trainer's progress
// callback.
func (rp *RoundProgress) Update(p gbm.Progress) {
	if rp.bar == nil {
		if p.Round == 1 || p.Round%10 == 0 || p.Round == rp.total {
			attrs := []any{"round", p.Round, "total", rp.total, "train_loss", p.TrainLoss}
			if p.HasValid {
				attrs = append(attrs, "valid_loss", p.ValidLoss, "best_iteration", p.BestIteration)
			}
			slog.Info("training round", attrs...)
		}
		return
	}
	if p.HasValid {
		rp.bar.Describe(fmt.Sprintf("[cyan][bold]Training[reset] valid loss %.4f", p.ValidLoss))
	}
	if err := rp.bar.Set(p.Round); err != nil {
		slog.Warn("failed to update progress bar", "error", err)
	}
}

// Finish completes the bar, for example after early stopping.
func (rp *RoundProgress) Finish() {
	if rp.bar == nil {
		return
	}
	if err := rp.bar.Finish(); err != nil {
		slog.Warn("failed to finish progress bar", "error", err)
	}
}
