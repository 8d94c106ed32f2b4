package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Veraticus/callscore/internal/assembler"
	"github.com/Veraticus/callscore/internal/cli"
	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/model"
	"github.com/Veraticus/callscore/internal/pipeline"
	"github.com/spf13/cobra"
)

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process FILE...",
		Short: "Classify submission documents",
		Long: `Classify the sessions in the given submission files. Submissions of the same
session are merged before classification, and every result is recorded in
the result store.

With --session-id each file is processed on its own as one session. With
--mode background the files are submitted concurrently and the command waits
for all of them before reporting.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runProcess,
	}

	cmd.Flags().String("session-id", "", "session id for a single document (default: from content or file name)")
	cmd.Flags().String("mode", string(pipeline.ModeRealtime), "processing mode (realtime, background)")
	cmd.Flags().Bool("json", false, "print results as JSON")
	cmd.Flags().Bool("write-merged", false, "also write merged session files to paths.output_dir")

	return cmd
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sessionID, _ := cmd.Flags().GetString("session-id")
	modeFlag, _ := cmd.Flags().GetString("mode")
	asJSON, _ := cmd.Flags().GetBool("json")
	writeMerged, _ := cmd.Flags().GetBool("write-merged")

	mode, err := pipeline.ParseMode(modeFlag)
	if err != nil {
		return err
	}
	if sessionID != "" && len(args) > 1 {
		return fmt.Errorf("--session-id applies to a single file, got %d", len(args))
	}

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

	var results []pipeline.Result
	switch {
	case sessionID != "" || mode == pipeline.ModeBackground:
		results, err = submitEach(cmd, assembler.NewParser(cfg.Assembly), proc, args, sessionID, mode)
	default:
		results, err = processBatch(cmd, cfg.Assembly, proc, args)
	}
	if err != nil {
		return err
	}

	if err := printResults(cmd, results, asJSON); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sessions failed", failed, len(results))
	}
	return nil
}

// processBatch parses every file and classifies the sessions together, so
// partial submissions spread over several files are merged.
func processBatch(cmd *cobra.Command, assembly config.AssemblyConfig, proc *pipeline.Processor, paths []string) ([]pipeline.Result, error) {
	parser := assembler.NewParser(assembly)
	var raws []model.RawSubmission
	var parseErrs int
	for i, path := range paths {
		data, err := os.ReadFile(path) //nolint:gosec // paths come from the command line
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		parsed, err := parser.ParseDocument(filepath.Base(path), data, "")
		if err != nil {
			slog.Warn("skipping submission", "file", path, "error", err)
			parseErrs++
			continue
		}
		for j := range parsed {
			parsed[j].Arrival = int64(i + 1)
		}
		raws = append(raws, parsed...)
	}

	results, err := proc.ProcessBatch(cmd.Context(), raws)
	if err != nil {
		return nil, err
	}
	if parseErrs > 0 {
		return results, fmt.Errorf("%d submission files could not be parsed", parseErrs)
	}
	return results, nil
}

// submitEach treats every file as one complete session document.
func submitEach(cmd *cobra.Command, parser *assembler.Parser, proc *pipeline.Processor, paths []string, sessionID string, mode pipeline.Mode) ([]pipeline.Result, error) {
	ctx := cmd.Context()
	ids := make([]string, 0, len(paths))
	results := make([]pipeline.Result, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path) //nolint:gosec // paths come from the command line
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		id := sessionID
		if id == "" {
			id = documentSessionID(parser, path, data)
		}
		res := proc.Submit(ctx, data, id, mode)
		ids = append(ids, res.SessionID)
		results = append(results, res)
	}
	if mode != pipeline.ModeBackground {
		return results, nil
	}

	proc.Wait()
	for i, id := range ids {
		res, err := proc.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

// documentSessionID reads the session id from the content or file name, or
// returns "" so that one is generated.
func documentSessionID(parser *assembler.Parser, path string, data []byte) string {
	raws, err := parser.ParseDocument(filepath.Base(path), data, "")
	if err != nil || len(raws) == 0 || raws[0].SessionID == model.UnknownSessionID {
		return ""
	}
	return raws[0].SessionID
}

func printResults(cmd *cobra.Command, results []pipeline.Result, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, results)
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := string(r.Status)
		rows = append(rows, []string{
			r.SessionID,
			cli.StatusStyle(status).Render(status),
			r.Prediction,
			formatConfidence(r.Confidence),
			r.Error,
		})
	}
	_, err := fmt.Fprintln(out, cli.RenderTable(
		[]string{"Session", "Status", "Prediction", "Confidence", "Error"},
		rows,
		[]cli.Alignment{cli.AlignLeft, cli.AlignLeft, cli.AlignLeft, cli.AlignRight, cli.AlignLeft},
	))
	return err
}
