package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/callscore/internal/cli"
	"github.com/Veraticus/callscore/internal/gate"
	"github.com/Veraticus/callscore/internal/pipeline"
	"github.com/Veraticus/callscore/internal/watcher"
	"github.com/spf13/cobra"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Classify sessions as their submissions arrive",
		Long: `Watch the data directory for submission files. Each session is classified
once, as soon as every required task type (classification, summary, qa by
default) has arrived. Existing files are picked up on start, and session
states survive restarts through the result store.

The model bundle is loaded once; restart the watcher after training.`,
		RunE: runWatch,
	}

	cmd.Flags().String("data-dir", "", "directory to watch (default: paths.data_dir)")
	cmd.Flags().String("policy", "", "re-arrival policy: first-completion or reprocess-on-update (default: gate.policy)")
	cmd.Flags().Bool("write-merged", false, "also write merged session files to paths.output_dir")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		watched := *cfg
		watched.Paths.DataDir = dir
		cfg = &watched
	}
	writeMerged, _ := cmd.Flags().GetBool("write-merged")

	predictor, err := loadPredictor(cfg)
	if err != nil {
		return err
	}
	extractor, err := newExtractor(ctx, cfg)
	if err != nil {
		return err
	}
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	opts := []pipeline.Option{pipeline.WithStore(store)}
	if writeMerged {
		opts = append(opts, pipeline.WithOutputDir(cfg.Paths.OutputDir))
	}
	proc := pipeline.NewProcessor(cfg, extractor, predictor, opts...)

	gateOpts := []gate.Option{gate.WithStore(store)}
	if policy, _ := cmd.Flags().GetString("policy"); policy != "" {
		gateOpts = append(gateOpts, gate.WithPolicy(policy))
	}
	w := watcher.New(cfg, proc, gateOpts...)

	restored, err := w.Gate().Restore(ctx)
	if err != nil {
		return err
	}
	slog.Info("session states restored", "count", restored)

	if _, err := fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatInfo("watching "+cfg.Paths.DataDir+" (Ctrl+C to stop)")); err != nil {
		return err
	}
	if err := w.Run(ctx); err != nil {
		return err
	}
	proc.Wait()

	processed := 0
	for _, st := range w.Gate().States() {
		if st.Runs > 0 {
			processed++
		}
	}
	_, err = fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatSuccess(fmt.Sprintf("stopped; %d sessions known, %d processed", len(w.Gate().States()), processed)))
	return err
}
