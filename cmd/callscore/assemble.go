package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Veraticus/callscore/internal/assembler"
	"github.com/Veraticus/callscore/internal/cli"
	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/model"
	"github.com/spf13/cobra"
)

func assembleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Merge submission files into per-session JSON",
		Long: `Read every submission in the data directory, merge the submissions of each
session and task type, and write merged_<type>_<session>.json and
final_merged_<session>.json files to the output directory.`,
		RunE: runAssemble,
	}

	cmd.Flags().String("data-dir", "", "directory with submission files (default: paths.data_dir)")
	cmd.Flags().String("output-dir", "", "directory for merged files (default: paths.output_dir)")

	return cmd
}

// loadSessions parses dir and returns the merged sessions and their
// integrated records.
func loadSessions(cfg *config.Config, dir string) ([]model.MergedSession, []model.SessionRecord, []error) {
	raws, errs := assembler.NewParser(cfg.Assembly).LoadDir(dir)
	merged := assembler.New(cfg.Assembly.StripFields).Assemble(raws)
	slog.Info("submissions loaded", "dir", dir, "files", len(raws), "skipped", len(errs), "merged", len(merged))
	return merged, assembler.Integrate(merged), errs
}

func runAssemble(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		dataDir = cfg.Paths.DataDir
	}
	outDir, _ := cmd.Flags().GetString("output-dir")
	if outDir == "" {
		outDir = cfg.Paths.OutputDir
	}

	merged, records, errs := loadSessions(cfg, config.ExpandPath(dataDir))
	if _, err := assembler.WriteMerged(config.ExpandPath(outDir), merged); err != nil {
		return err
	}
	if _, err := assembler.WriteIntegrated(config.ExpandPath(outDir), records); err != nil {
		return err
	}

	required := cfg.RequiredTasks()
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		entries := 0
		tasks := make([]string, 0, len(r.Tasks))
		for _, t := range r.Received().Sorted() {
			tasks = append(tasks, string(t))
			entries += len(r.Tasks[t].Entries)
		}
		complete := cli.StatusStyle("partial").Render("partial")
		if r.Received().Contains(required) {
			complete = cli.StatusStyle("completed").Render("complete")
		}
		rows = append(rows, []string{r.SessionID, strings.Join(tasks, ", "), strconv.Itoa(entries), complete})
	}

	out := cmd.OutOrStdout()
	if _, err := fmt.Fprintln(out, cli.RenderTable(
		[]string{"Session", "Tasks", "Transcripts", "State"},
		rows,
		[]cli.Alignment{cli.AlignLeft, cli.AlignLeft, cli.AlignRight, cli.AlignLeft},
	)); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%d sessions written to %s", len(records), outDir))); err != nil {
		return err
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d submission files could not be parsed", len(errs))
	}
	return nil
}
