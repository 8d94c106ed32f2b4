package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/Veraticus/callscore/internal/cli"
	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/dataset"
	"github.com/spf13/cobra"
)

func predictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Classify every row of a prepared feature table",
		Long: `Load the model bundle and classify every row of a feature table produced by
'extract'. Columns are aligned to the trained schema: missing features are
substituted with 0 and unseen categories with the missing sentinel. Rows that
carry a result_label are also scored for accuracy.`,
		RunE: runPredict,
	}

	cmd.Flags().StringP("input", "i", "", "feature table (default: <paths.dataset_dir>/test.csv)")
	cmd.Flags().StringP("output", "o", "", "write predictions as CSV")

	return cmd
}

func runPredict(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	input, _ := cmd.Flags().GetString("input")
	if input == "" {
		input = filepath.Join(cfg.Paths.DatasetDir, testFile)
	}
	output, _ := cmd.Flags().GetString("output")

	predictor, err := loadPredictor(cfg)
	if err != nil {
		return err
	}
	table, err := dataset.ReadCSVFile(config.ExpandPath(input))
	if err != nil {
		return err
	}

	preds, err := predictor.PredictTable(table)
	if err != nil {
		return err
	}

	results := dataset.NewTable([]string{dataset.ColumnSessionID, "predicted_label", "confidence", "model_version"})
	rows := make([][]string, 0, len(preds))
	for i, p := range preds {
		id := table.Value(i, dataset.ColumnSessionID)
		conf := strconv.FormatFloat(p.Confidence, 'f', 4, 64)
		if err := results.Append([]string{id, p.Label, conf, predictor.Version()}); err != nil {
			return err
		}
		rows = append(rows, []string{id, p.Label, conf})
	}

	out := cmd.OutOrStdout()
	if output != "" {
		if err := results.WriteCSVFile(config.ExpandPath(output)); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%d predictions written to %s", len(preds), output))); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintln(out, cli.RenderTable(
			[]string{"Session", "Prediction", "Confidence"},
			rows,
			[]cli.Alignment{cli.AlignLeft, cli.AlignLeft, cli.AlignRight},
		)); err != nil {
			return err
		}
	}

	stats := predictor.Stats()
	if stats.MissingFeatures > 0 || stats.Unparsable > 0 || stats.UnknownCategories > 0 {
		msg := fmt.Sprintf("%d rows aligned: %d missing features, %d unparsable values, %d unknown categories",
			stats.Rows, stats.MissingFeatures, stats.Unparsable, stats.UnknownCategories)
		if _, err := fmt.Fprintln(out, cli.FormatWarning(msg)); err != nil {
			return err
		}
	}

	if table.Has(dataset.ColumnLabel) {
		report, err := predictor.Evaluate(table)
		if errors.Is(err, common.ErrNoLabelledRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if report.Support < table.Len() {
			slog.Info("evaluated labelled rows only", "labelled", report.Support, "rows", table.Len())
		}
		if _, err := fmt.Fprintln(out, renderReport("Evaluation", report, nil)); err != nil {
			return err
		}
	}
	return nil
}
