package main

import (
	"fmt"
	"path/filepath"

	"github.com/Veraticus/callscore/internal/cli"
	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/features"
	"github.com/Veraticus/callscore/internal/model"
	"github.com/spf13/cobra"
)

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Write a feature table for every assembled session",
		Long: `Assemble the submissions in the data directory, extract the feature vector
of every session, and write them as a CSV feature table with result_label
taken from the classification items.

With --from-db the table is built from the feature rows accumulated by
'process' and 'watch' instead.`,
		RunE: runExtract,
	}

	cmd.Flags().String("data-dir", "", "directory with submission files (default: paths.data_dir)")
	cmd.Flags().StringP("output", "o", "", "output CSV (default: <paths.dataset_dir>/features.csv)")
	cmd.Flags().Bool("from-db", false, "export accumulated feature rows from the result store")
	cmd.Flags().Bool("record", false, "also append the extracted rows to the result store")

	return cmd
}

func runExtract(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fromDB, _ := cmd.Flags().GetBool("from-db")
	record, _ := cmd.Flags().GetBool("record")
	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = filepath.Join(cfg.Paths.DatasetDir, "features.csv")
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		dataDir = cfg.Paths.DataDir
	}

	extractor, err := newExtractor(ctx, cfg)
	if err != nil {
		return err
	}

	var (
		vectors []model.FeatureVector
		errs    []error
	)
	if fromDB || record {
		store, err := openStorage(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if fromDB {
			vectors, err = store.ListFeatureRows(ctx)
			if err != nil {
				return err
			}
		} else {
			vectors, errs = extractDir(cmd, cfg, dataDir, extractor)
			for i := range vectors {
				if err := store.AppendFeatureRow(ctx, &vectors[i]); err != nil {
					return err
				}
			}
		}
	} else {
		vectors, errs = extractDir(cmd, cfg, dataDir, extractor)
	}

	if err := extractor.Table(vectors, true).WriteCSVFile(config.ExpandPath(output)); err != nil {
		return err
	}

	labelled, degraded := 0, 0
	for _, v := range vectors {
		if v.Label != "" {
			labelled++
		}
		if len(v.Degraded) > 0 {
			degraded++
		}
	}
	msg := fmt.Sprintf("%d feature rows (%d labelled) written to %s", len(vectors), labelled, output)
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(msg)); err != nil {
		return err
	}
	if degraded > 0 {
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning(fmt.Sprintf("%d rows extracted without every collaborator", degraded))); err != nil {
			return err
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d submission files could not be parsed", len(errs))
	}
	return nil
}

func extractDir(cmd *cobra.Command, cfg *config.Config, dir string, extractor *features.Extractor) ([]model.FeatureVector, []error) {
	_, records, errs := loadSessions(cfg, config.ExpandPath(dir))
	vectors := make([]model.FeatureVector, 0, len(records))
	for _, r := range records {
		vectors = append(vectors, extractor.ExtractRecord(cmd.Context(), r))
	}
	return vectors, errs
}
