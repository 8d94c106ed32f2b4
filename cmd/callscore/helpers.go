package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/Veraticus/callscore/internal/classifier"
	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/features"
	"github.com/Veraticus/callscore/internal/schema"
	"github.com/Veraticus/callscore/internal/storage"
	"github.com/spf13/viper"
)

// loadConfig materializes the configuration read by initConfig.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, common.NewUserError("invalid configuration", err)
	}
	return cfg, nil
}

// openStorage opens and migrates the result store.
func openStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store %s: %w", cfg.Database.Path, err)
	}
	return store, nil
}

func newExtractor(ctx context.Context, cfg *config.Config) (*features.Extractor, error) {
	analyzer, err := features.NewSentimentAnalyzer(ctx, *cfg)
	if err != nil {
		return nil, err
	}
	return features.NewExtractor(cfg.Features, features.WithSentiment(analyzer)), nil
}

// loadPredictor loads the trained bundle. A missing or partial bundle is fatal.
func loadPredictor(cfg *config.Config) (*classifier.Predictor, error) {
	bundle, err := schema.NewRegistry(cfg.Paths.ModelDir).Load()
	if common.IsSchemaError(err) {
		return nil, common.NewUserError("model bundle in "+cfg.Paths.ModelDir+" is incomplete; rerun 'callscore train'", err)
	}
	if err != nil {
		return nil, common.NewUserError("no usable model bundle in "+cfg.Paths.ModelDir+"; run 'callscore train' first", err)
	}
	predictor, err := classifier.NewPredictor(bundle)
	if err != nil {
		return nil, err
	}
	slog.Info("model loaded", "version", predictor.Version(), "features", len(predictor.Schema().FeatureNames))
	return predictor, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func formatConfidence(c *float64) string {
	if c == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *c)
}
