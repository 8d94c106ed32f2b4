package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/model"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, PolicyFirstCompletion, cfg.Gate.Policy)
	assert.Len(t, cfg.Training.Labels, 4)
	assert.Equal(t, 42, int(cfg.Training.Seed))
	assert.Equal(t, 20, cfg.Training.EarlyStoppingRounds)
	assert.True(t, cfg.RequiredTasks().Contains(model.NewTaskSet(model.AllTaskTypes...)))
	assert.Equal(t, "politeness", cfg.Features.KeywordGroups[0].Name)
	assert.Equal(t, SentimentLexicon, cfg.Sentiment.Provider)
	assert.Equal(t, 15*time.Minute, cfg.Sentiment.CacheTTL)
	assert.Equal(t, 600, cfg.Sentiment.RequestsPerMinute)
}

func TestLoad_FromYAML(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
gate:
  policy: reprocess-on-update
  required: [classification, qa]
sentiment:
  provider: http
  endpoint: http://localhost:9000/score
  timeout: 2s
training:
  num_rounds: 50
  labels: [a, b, c, d]
features:
  keyword_groups:
    - name: thanks
      keywords: [thank]
`)))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, PolicyReprocessOnUpdate, cfg.Gate.Policy)
	assert.Equal(t, []model.TaskType{model.TaskClassification, model.TaskQA}, cfg.Gate.Required)
	assert.Equal(t, 2*time.Second, cfg.Sentiment.Timeout)
	assert.Equal(t, 50, cfg.Training.NumRounds)
	assert.Equal(t, 0.05, cfg.Training.LearningRate, "unset keys keep defaults")
	require.Len(t, cfg.Features.KeywordGroups, 1)
	assert.Equal(t, "thanks", cfg.Features.KeywordGroups[0].Name)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		mutate func(*Config)
		name   string
	}{
		{name: "unknown policy", mutate: func(c *Config) { c.Gate.Policy = "sometimes" }},
		{name: "empty required", mutate: func(c *Config) { c.Gate.Required = nil }},
		{name: "bad task type", mutate: func(c *Config) { c.Gate.Required = []model.TaskType{"audio"} }},
		{name: "http without endpoint", mutate: func(c *Config) { c.Sentiment.Provider = SentimentHTTP }},
		{name: "duplicate labels", mutate: func(c *Config) { c.Training.Labels = []string{"a", "a"} }},
		{name: "split too large", mutate: func(c *Config) { c.Training.ValSize = 0.6; c.Training.TestSize = 0.5 }},
		{name: "duplicate keyword group", mutate: func(c *Config) {
			c.Features.KeywordGroups = []KeywordGroup{{Name: "x"}, {Name: "x"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrInvalidConfig) || errors.Is(err, common.ErrMissingConfig))
		})
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("CALLSCORE_TEST_DIR", "/tmp/cs")
	assert.Equal(t, "/tmp/cs/models", ExpandPath("$CALLSCORE_TEST_DIR/models"))
	assert.Equal(t, "", ExpandPath(""))
}
