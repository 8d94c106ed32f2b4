package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/model"
	"github.com/spf13/viper"
)

// Gate policies for arrivals after a session has been processed.
const (
	PolicyFirstCompletion   = "first-completion"
	PolicyReprocessOnUpdate = "reprocess-on-update"
)

// Sentiment providers.
const (
	SentimentLexicon = "lexicon"
	SentimentHTTP    = "http"
	SentimentNone    = "none"
)

// Config is the process-wide configuration. It is built once by Load and
// shared read-only by every component; nothing mutates it afterwards.
type Config struct {
	Paths     PathsConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	Sentiment SentimentConfig
	Gate      GateConfig
	Assembly  AssemblyConfig
	Features  FeaturesConfig
	Training  TrainingConfig
	Pipeline  PipelineConfig
}

// PathsConfig holds the working directories.
type PathsConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	OutputDir  string `mapstructure:"output_dir"`
	ModelDir   string `mapstructure:"model_dir"`
	DatasetDir string `mapstructure:"dataset_dir"`
}

// DatabaseConfig locates the result store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TaskKeywords maps a task type to the file-name keywords that identify it.
type TaskKeywords struct {
	Type     model.TaskType `mapstructure:"type"`
	Keywords []string       `mapstructure:"keywords"`
}

// AssemblyConfig configures submission parsing and merging.
type AssemblyConfig struct {
	TaskKeywords []TaskKeywords `mapstructure:"task_keywords"`
	StripFields  []string       `mapstructure:"strip_fields"`
}

// KeywordGroup is a named list of keywords counted as one feature.
type KeywordGroup struct {
	Name     string   `mapstructure:"name"`
	Keywords []string `mapstructure:"keywords"`
}

// FeaturesConfig configures the feature extractor.
type FeaturesConfig struct {
	KeywordGroups     []KeywordGroup `mapstructure:"keyword_groups"`
	CategoricalFields []string       `mapstructure:"categorical_fields"`
	Stopwords         []string       `mapstructure:"stopwords"`
	LabelCategories   []string       `mapstructure:"label_categories"`
	TopTermsCount     int            `mapstructure:"top_terms_count"`
}

// SentimentConfig configures the sentiment collaborator.
type SentimentConfig struct {
	Provider     string        `mapstructure:"provider"`
	Endpoint     string        `mapstructure:"endpoint"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	TokenURL     string        `mapstructure:"token_url"`
	Scopes       []string      `mapstructure:"scopes"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	MaxAttempts  int           `mapstructure:"max_attempts"`

	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// TrainingConfig holds the boosting policy.
type TrainingConfig struct {
	Labels              []string `mapstructure:"labels"`
	NumRounds           int      `mapstructure:"num_rounds"`
	LearningRate        float64  `mapstructure:"learning_rate"`
	MaxDepth            int      `mapstructure:"max_depth"`
	NumLeaves           int      `mapstructure:"num_leaves"`
	MinDataInLeaf       int      `mapstructure:"min_data_in_leaf"`
	Lambda              float64  `mapstructure:"lambda"`
	FeatureFraction     float64  `mapstructure:"feature_fraction"`
	BaggingFraction     float64  `mapstructure:"bagging_fraction"`
	BaggingFreq         int      `mapstructure:"bagging_freq"`
	EarlyStoppingRounds int      `mapstructure:"early_stopping_rounds"`
	Seed                int64    `mapstructure:"seed"`
	MaxMissingRatio     float64  `mapstructure:"max_missing_ratio"`
	ValSize             float64  `mapstructure:"val_size"`
	TestSize            float64  `mapstructure:"test_size"`
}

// GateConfig configures the session completion gate.
type GateConfig struct {
	Policy   string           `mapstructure:"policy"`
	Required []model.TaskType `mapstructure:"required"`
}

// PipelineConfig configures batch processing and the watcher.
type PipelineConfig struct {
	Workers       int           `mapstructure:"workers"`
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	labels := make([]string, len(model.DefaultQualityLabels))
	for i, l := range model.DefaultQualityLabels {
		labels[i] = string(l)
	}

	return Config{
		Paths: PathsConfig{
			DataDir:    "data",
			OutputDir:  "output",
			ModelDir:   "trained_models",
			DatasetDir: "dataset",
		},
		Database: DatabaseConfig{
			Path: "$HOME/.local/share/callscore/callscore.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Assembly: AssemblyConfig{
			TaskKeywords: []TaskKeywords{
				{Type: model.TaskClassification, Keywords: []string{"분류", "classification", "class", "classify"}},
				{Type: model.TaskSummary, Keywords: []string{"요약", "summary", "sum", "summarize"}},
				{Type: model.TaskQA, Keywords: []string{"질의응답", "qa", "qna", "question", "answer"}},
			},
			StripFields: []string{model.KeyInput},
		},
		Features: FeaturesConfig{
			KeywordGroups: []KeywordGroup{
				{Name: "politeness", Keywords: []string{"습니다", "아요", "세요", "요.", "니다"}},
				{Name: "positive", Keywords: []string{"감사", "고맙", "좋", "만족", "훌륭", "완벽"}},
				{Name: "negative", Keywords: []string{"불만", "화나", "짜증", "실망", "최악", "불편"}},
				{Name: "apology", Keywords: []string{"죄송", "미안", "양해"}},
				{Name: "empathy", Keywords: []string{"이해", "공감", "마음"}},
				{Name: "confirmation", Keywords: []string{"맞나요", "맞습니까", "확인"}},
				{Name: "alternative", Keywords: []string{"방법", "대안", "다른"}},
				{Name: "conflict", Keywords: []string{"문제", "갈등", "충돌"}},
				{Name: "procedure", Keywords: []string{"메뉴얼", "규정", "정책", "절차"}},
			},
			CategoricalFields: []string{"consulting_category", "source"},
			LabelCategories:   []string{"result", "상담 결과", "상담결과"},
			TopTermsCount:     10,
		},
		Sentiment: SentimentConfig{
			Provider:          SentimentLexicon,
			Timeout:           10 * time.Second,
			CacheTTL:          15 * time.Minute,
			MaxAttempts:       3,
			RequestsPerMinute: 600,
		},
		Training: TrainingConfig{
			Labels:              labels,
			NumRounds:           200,
			LearningRate:        0.05,
			MaxDepth:            6,
			NumLeaves:           31,
			MinDataInLeaf:       20,
			Lambda:              1.0,
			FeatureFraction:     0.9,
			BaggingFraction:     0.8,
			BaggingFreq:         5,
			EarlyStoppingRounds: 20,
			Seed:                42,
			MaxMissingRatio:     0.5,
			ValSize:             0.2,
			TestSize:            0.2,
		},
		Gate: GateConfig{
			Policy:   PolicyFirstCompletion,
			Required: []model.TaskType{model.TaskClassification, model.TaskSummary, model.TaskQA},
		},
		Pipeline: PipelineConfig{
			Workers:       4,
			SettleTimeout: 30 * time.Second,
			PollInterval:  500 * time.Millisecond,
		},
	}
}

// Load materializes the configuration from viper on top of the defaults.
// A nil viper yields the defaults.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if v != nil {
		// Lists replace the defaults wholesale instead of merging element-wise.
		lists := map[string]func(){
			"assembly.task_keywords":      func() { cfg.Assembly.TaskKeywords = nil },
			"assembly.strip_fields":       func() { cfg.Assembly.StripFields = nil },
			"features.keyword_groups":     func() { cfg.Features.KeywordGroups = nil },
			"features.categorical_fields": func() { cfg.Features.CategoricalFields = nil },
			"features.stopwords":          func() { cfg.Features.Stopwords = nil },
			"features.label_categories":   func() { cfg.Features.LabelCategories = nil },
			"sentiment.scopes":            func() { cfg.Sentiment.Scopes = nil },
			"training.labels":             func() { cfg.Training.Labels = nil },
			"gate.required":               func() { cfg.Gate.Required = nil },
		}
		for key, reset := range lists {
			if v.IsSet(key) {
				reset()
			}
		}

		sections := map[string]any{
			"paths":     &cfg.Paths,
			"database":  &cfg.Database,
			"logging":   &cfg.Logging,
			"assembly":  &cfg.Assembly,
			"features":  &cfg.Features,
			"sentiment": &cfg.Sentiment,
			"training":  &cfg.Training,
			"gate":      &cfg.Gate,
			"pipeline":  &cfg.Pipeline,
		}
		for key, target := range sections {
			if !v.IsSet(key) {
				continue
			}
			if err := v.UnmarshalKey(key, target); err != nil {
				return nil, fmt.Errorf("%w: section %s: %v", common.ErrInvalidConfig, key, err)
			}
		}
	}

	cfg.Paths.DataDir = ExpandPath(cfg.Paths.DataDir)
	cfg.Paths.OutputDir = ExpandPath(cfg.Paths.OutputDir)
	cfg.Paths.ModelDir = ExpandPath(cfg.Paths.ModelDir)
	cfg.Paths.DatasetDir = ExpandPath(cfg.Paths.DatasetDir)
	cfg.Database.Path = ExpandPath(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if len(c.Training.Labels) < 2 {
		return fmt.Errorf("%w: at least two training labels are required", common.ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Training.Labels))
	for _, l := range c.Training.Labels {
		if strings.TrimSpace(l) == "" || seen[l] {
			return fmt.Errorf("%w: training labels must be unique and non-empty", common.ErrInvalidConfig)
		}
		seen[l] = true
	}

	for _, tk := range c.Assembly.TaskKeywords {
		if !tk.Type.Valid() {
			return fmt.Errorf("%w: unknown task type %q in assembly.task_keywords", common.ErrInvalidConfig, tk.Type)
		}
	}

	if len(c.Gate.Required) == 0 {
		return fmt.Errorf("%w: gate.required cannot be empty", common.ErrInvalidConfig)
	}
	for _, t := range c.Gate.Required {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown task type %q in gate.required", common.ErrInvalidConfig, t)
		}
	}

	switch c.Gate.Policy {
	case PolicyFirstCompletion, PolicyReprocessOnUpdate:
	default:
		return fmt.Errorf("%w: gate.policy %q", common.ErrInvalidConfig, c.Gate.Policy)
	}

	switch c.Sentiment.Provider {
	case SentimentLexicon, SentimentNone:
	case SentimentHTTP:
		if c.Sentiment.Endpoint == "" {
			return fmt.Errorf("%w: sentiment.endpoint is required for the http provider", common.ErrMissingConfig)
		}
	default:
		return fmt.Errorf("%w: sentiment.provider %q", common.ErrInvalidConfig, c.Sentiment.Provider)
	}

	groups := make(map[string]bool, len(c.Features.KeywordGroups))
	for _, g := range c.Features.KeywordGroups {
		if g.Name == "" || groups[g.Name] {
			return fmt.Errorf("%w: keyword group names must be unique and non-empty", common.ErrInvalidConfig)
		}
		groups[g.Name] = true
	}

	t := c.Training
	if t.NumRounds <= 0 || t.LearningRate <= 0 || t.MaxDepth <= 0 {
		return fmt.Errorf("%w: num_rounds, learning_rate and max_depth must be positive", common.ErrInvalidConfig)
	}
	if t.NumLeaves < 2 || t.MinDataInLeaf < 1 || t.Lambda < 0 {
		return fmt.Errorf("%w: num_leaves must be at least 2, min_data_in_leaf at least 1, lambda non-negative", common.ErrInvalidConfig)
	}
	if t.FeatureFraction <= 0 || t.FeatureFraction > 1 || t.BaggingFraction <= 0 || t.BaggingFraction > 1 {
		return fmt.Errorf("%w: feature_fraction and bagging_fraction must be in (0,1]", common.ErrInvalidConfig)
	}
	if t.ValSize < 0 || t.TestSize < 0 || t.ValSize+t.TestSize >= 1 {
		return fmt.Errorf("%w: val_size + test_size must be below 1", common.ErrInvalidConfig)
	}

	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("%w: pipeline.workers must be positive", common.ErrInvalidConfig)
	}

	return nil
}

// RequiredTasks returns the gate's required task types as a set.
func (c *Config) RequiredTasks() model.TaskSet {
	return model.NewTaskSet(c.Gate.Required...)
}
