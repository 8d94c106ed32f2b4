package main

import (
	"fmt"
	"path/filepath"

	"github.com/Veraticus/callscore/internal/cli"
	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/dataset"
	"github.com/spf13/cobra"
)

// Split file names read by 'train'.
const (
	trainFile = "train.csv"
	valFile   = "val.csv"
	testFile  = "test.csv"
)

func datasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Prepare training datasets",
	}
	cmd.AddCommand(datasetSplitCmd())
	return cmd
}

func datasetSplitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Split a labelled feature table into train/val/test",
		Long: `Split a labelled feature table into train.csv, val.csv and test.csv,
stratified by result_label. Rows without a label are dropped.`,
		RunE: runDatasetSplit,
	}

	cmd.Flags().StringP("input", "i", "", "labelled feature table (default: <paths.dataset_dir>/features.csv)")
	cmd.Flags().String("output-dir", "", "directory for the splits (default: paths.dataset_dir)")
	cmd.Flags().Float64("val-size", 0, "validation share (default: training.val_size)")
	cmd.Flags().Float64("test-size", 0, "test share (default: training.test_size)")

	return cmd
}

func runDatasetSplit(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	input, _ := cmd.Flags().GetString("input")
	if input == "" {
		input = filepath.Join(cfg.Paths.DatasetDir, "features.csv")
	}
	outDir, _ := cmd.Flags().GetString("output-dir")
	if outDir == "" {
		outDir = cfg.Paths.DatasetDir
	}
	valSize, _ := cmd.Flags().GetFloat64("val-size")
	if valSize == 0 {
		valSize = cfg.Training.ValSize
	}
	testSize, _ := cmd.Flags().GetFloat64("test-size")
	if testSize == 0 {
		testSize = cfg.Training.TestSize
	}

	table, err := dataset.ReadCSVFile(config.ExpandPath(input))
	if err != nil {
		return err
	}
	split, err := dataset.StratifiedSplit(table, dataset.ColumnLabel, valSize, testSize, cfg.Training.Seed)
	if err != nil {
		return common.NewUserError("cannot split "+input, err)
	}

	outDir = config.ExpandPath(outDir)
	parts := []struct {
		table *dataset.Table
		name  string
	}{
		{split.Train, trainFile},
		{split.Val, valFile},
		{split.Test, testFile},
	}
	rows := make([][]string, 0, len(parts))
	for _, p := range parts {
		path := filepath.Join(outDir, p.name)
		if err := p.table.WriteCSVFile(path); err != nil {
			return err
		}
		rows = append(rows, []string{p.name, fmt.Sprint(p.table.Len()), path})
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable(
		[]string{"Split", "Rows", "Path"},
		rows,
		[]cli.Alignment{cli.AlignLeft, cli.AlignRight, cli.AlignLeft},
	))
	return err
}
