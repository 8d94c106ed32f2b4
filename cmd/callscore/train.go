package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Veraticus/callscore/internal/classifier"
	"github.com/Veraticus/callscore/internal/cli"
	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/dataset"
	"github.com/Veraticus/callscore/internal/schema"
	"github.com/spf13/cobra"
)

func trainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the classifier and save a model bundle",
		Long: `Train the gradient-boosted classifier from train.csv, val.csv and test.csv
in the dataset directory and save the model bundle (classifier, label
encoder, feature names, categorical encoders) to the model directory.

The running 'watch' process keeps its loaded bundle; restart it to serve the
new model.`,
		RunE: runTrain,
	}

	cmd.Flags().String("dataset-dir", "", "directory with train/val/test CSVs (default: paths.dataset_dir)")
	cmd.Flags().String("model-dir", "", "directory for the bundle (default: paths.model_dir)")
	cmd.Flags().Int("rounds", 0, "boosting rounds (default: training.num_rounds)")

	return cmd
}

func runTrain(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir, _ := cmd.Flags().GetString("dataset-dir")
	if dir == "" {
		dir = cfg.Paths.DatasetDir
	}
	modelDir, _ := cmd.Flags().GetString("model-dir")
	if modelDir == "" {
		modelDir = cfg.Paths.ModelDir
	}
	trainingCfg := cfg.Training
	if rounds, _ := cmd.Flags().GetInt("rounds"); rounds > 0 {
		trainingCfg.NumRounds = rounds
	}

	dir = config.ExpandPath(dir)
	split := dataset.Split{}
	for _, p := range []struct {
		dst  **dataset.Table
		name string
	}{
		{&split.Train, trainFile},
		{&split.Val, valFile},
		{&split.Test, testFile},
	} {
		t, err := dataset.ReadCSVFile(filepath.Join(dir, p.name))
		if err != nil {
			return err
		}
		*p.dst = t
	}

	progress := cli.NewRoundProgress(cmd.ErrOrStderr(), trainingCfg.NumRounds)
	trainer := classifier.NewTrainer(trainingCfg, classifier.WithProgress(progress.Update))
	result, err := trainer.Train(cmd.Context(), split)
	progress.Finish()
	if err != nil {
		return err
	}

	version, err := schema.NewRegistry(config.ExpandPath(modelDir)).Save(result.Bundle)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(result.Excluded) > 0 {
		names := make([]string, 0, len(result.Excluded))
		for _, e := range result.Excluded {
			names = append(names, e.Name+" ("+e.Reason+")")
		}
		if _, err := fmt.Fprintln(out, cli.FormatInfo("excluded columns: "+strings.Join(names, ", "))); err != nil {
			return err
		}
	}
	for _, r := range []struct {
		report *classifier.EvalReport
		name   string
	}{
		{result.Val, "Validation"},
		{result.Test, "Test"},
	} {
		if r.report == nil {
			continue
		}
		if _, err := fmt.Fprintln(out, renderReport(r.name, r.report, result.ClassWeights)); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("model %s saved to %s (%d rows, %d features)",
		version, modelDir, result.TrainRows, len(result.Schema.FeatureNames))))
	return err
}

func renderReport(title string, r *classifier.EvalReport, weights map[string]float64) string {
	rows := make([][]string, 0, len(r.PerClass))
	for _, c := range r.PerClass {
		weight := "-"
		if w, ok := weights[c.Label]; ok {
			weight = fmt.Sprintf("%.2f", w)
		}
		rows = append(rows, []string{
			c.Label,
			fmt.Sprintf("%.3f", c.Precision),
			fmt.Sprintf("%.3f", c.Recall),
			fmt.Sprintf("%.3f", c.F1),
			fmt.Sprint(c.Support),
			weight,
		})
	}

	heading := cli.FormatTitle(fmt.Sprintf("%s accuracy %.3f (%d rows)", title, r.Accuracy, r.Support))
	return heading + "\n" + cli.RenderTable(
		[]string{"Label", "Precision", "Recall", "F1", "Support", "Weight"},
		rows,
		[]cli.Alignment{cli.AlignLeft, cli.AlignRight, cli.AlignRight, cli.AlignRight, cli.AlignRight, cli.AlignRight},
	)
}
