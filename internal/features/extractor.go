// Package features derives the fixed-width feature vector of a session from
// its transcript, instruction items and metadata.
package features

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/model"
)

// Feature names that do not come from configuration.
const (
	FeatureTurnCount          = "turn_count"
	FeatureUtteranceCount     = "utterance_count"
	FeatureSpeakerCount       = "speaker_count"
	FeatureCharCount          = "char_count"
	FeatureAvgUtteranceLength = "avg_utterance_length"
	FeaturePolitenessRatio    = "politeness_ratio"
	FeaturePositiveRatio      = "positive_ratio"
	FeatureSentimentScore     = "sentiment_score"
	FeatureInstructionCount   = "instruction_count"
	FeatureSummaryLength      = "summary_length"
	FeatureQAPairCount        = "qa_pair_count"
)

// Collaborator names recorded in FeatureVector.Degraded.
const (
	CollaboratorSentiment = "sentiment"
	CollaboratorTokenizer = "tokenizer"
)

// Extractor computes feature vectors. It is safe for concurrent use.
type Extractor struct {
	sentiment       SentimentAnalyzer
	tokenizer       Tokenizer
	groups          []config.KeywordGroup
	categorical     []string
	labelCategories map[string]struct{}
	numeric         []string
	topTerms        int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithSentiment sets the sentiment collaborator. A nil analyzer disables it.
func WithSentiment(a SentimentAnalyzer) Option {
	return func(e *Extractor) { e.sentiment = a }
}

// WithTokenizer sets the tokenizer collaborator.
func WithTokenizer(t Tokenizer) Option {
	return func(e *Extractor) { e.tokenizer = t }
}

// NewExtractor creates an extractor for the feature configuration. By default
// sentiment comes from the positive/negative keyword groups and tokens from a
// SimpleTokenizer.
func NewExtractor(cfg config.FeaturesConfig, opts ...Option) *Extractor {
	e := &Extractor{
		groups:          cfg.KeywordGroups,
		categorical:     cfg.CategoricalFields,
		labelCategories: make(map[string]struct{}, len(cfg.LabelCategories)),
		topTerms:        cfg.TopTermsCount,
	}
	for _, c := range cfg.LabelCategories {
		e.labelCategories[c] = struct{}{}
	}

	e.sentiment = lexiconFromGroups(cfg.KeywordGroups)
	e.tokenizer = NewSimpleTokenizer(cfg.Stopwords)

	for _, opt := range opts {
		opt(e)
	}

	e.numeric = []string{
		FeatureTurnCount,
		FeatureUtteranceCount,
		FeatureSpeakerCount,
		FeatureCharCount,
		FeatureAvgUtteranceLength,
	}
	for _, g := range e.groups {
		e.numeric = append(e.numeric, CountFeature(g.Name))
	}
	e.numeric = append(e.numeric,
		FeaturePolitenessRatio,
		FeaturePositiveRatio,
		FeatureSentimentScore,
		FeatureInstructionCount,
		FeatureSummaryLength,
		FeatureQAPairCount,
	)
	return e
}

// CountFeature names the count feature of a keyword group.
func CountFeature(group string) string {
	return group + "_count"
}

// Names returns every feature name in canonical order: numeric, then categorical.
func (e *Extractor) Names() []string {
	names := make([]string, 0, len(e.numeric)+len(e.categorical))
	names = append(names, e.numeric...)
	return append(names, e.categorical...)
}

// NumericNames returns the numeric feature names in order.
func (e *Extractor) NumericNames() []string {
	return append([]string(nil), e.numeric...)
}

// CategoricalNames returns the categorical feature names in order.
func (e *Extractor) CategoricalNames() []string {
	return append([]string(nil), e.categorical...)
}

// Extract computes the features of a single merged session.
func (e *Extractor) Extract(ctx context.Context, m model.MergedSession) model.FeatureVector {
	return e.ExtractRecord(ctx, model.SessionRecord{
		SessionID: m.SessionID,
		Tasks:     map[model.TaskType]model.MergedSession{m.TaskType: m},
	})
}

// ExtractRecord computes the features of an integrated session.
// Transcript and metadata features come from the first entry of the primary
// task type, which is the earliest-arriving transcript; later distinct
// transcripts of that session are not read. Item-derived features count
// every entry of every task type present.
func (e *Extractor) ExtractRecord(ctx context.Context, r model.SessionRecord) model.FeatureVector {
	v := model.FeatureVector{
		SessionID:   r.SessionID,
		Values:      make(map[string]float64, len(e.numeric)),
		Categorical: make(map[string]string, len(e.categorical)),
	}
	for _, name := range e.numeric {
		v.Values[name] = 0
	}

	primary, _ := r.Primary()
	transcript := primary.Transcript()
	var metadata map[string]any
	if len(primary.Entries) > 0 {
		metadata = primary.Entries[0].Metadata
	}

	stats := statsOf(parseUtterances(transcript))
	v.Values[FeatureTurnCount] = float64(stats.turns)
	v.Values[FeatureUtteranceCount] = float64(stats.utterances)
	v.Values[FeatureSpeakerCount] = float64(stats.speakers)
	v.Values[FeatureCharCount] = float64(stats.chars)
	v.Values[FeatureAvgUtteranceLength] = stats.avgUtteranceLength()

	counts := make(map[string]int, len(e.groups))
	for _, g := range e.groups {
		counts[g.Name] = countAll(transcript, g.Keywords)
		v.Values[CountFeature(g.Name)] = float64(counts[g.Name])
	}
	if stats.utterances > 0 {
		v.Values[FeaturePolitenessRatio] = clamp(float64(counts["politeness"])/float64(stats.utterances), 0, 1)
	}
	if pn := counts["positive"] + counts["negative"]; pn > 0 {
		v.Values[FeaturePositiveRatio] = float64(counts["positive"]) / float64(pn)
	}

	v.Values[FeatureSentimentScore] = e.sentimentScore(ctx, r.SessionID, transcript, &v)

	e.itemFeatures(r, &v)

	for _, field := range e.categorical {
		v.Categorical[field] = categoryValue(metadata[field])
	}

	v.TopTerms = e.terms(r.SessionID, transcript, &v)
	return v
}

func (e *Extractor) sentimentScore(ctx context.Context, id, transcript string, v *model.FeatureVector) float64 {
	if e.sentiment == nil || transcript == "" {
		return 0
	}
	score, err := e.sentiment.Analyze(ctx, id, transcript)
	if err != nil {
		slog.Warn("sentiment unavailable, using 0",
			"session_id", id,
			"analyzer", e.sentiment.Name(),
			"error", err)
		v.Degraded = append(v.Degraded, CollaboratorSentiment)
		return 0
	}
	if math.IsNaN(score) {
		return 0
	}
	return clamp(score, -1, 1)
}

func (e *Extractor) terms(id, transcript string, v *model.FeatureVector) []string {
	if e.tokenizer == nil || e.topTerms <= 0 || transcript == "" {
		return nil
	}
	tokens, err := e.tokenizer.Tokenize(transcript)
	if err != nil {
		slog.Warn("tokenizer unavailable, no top terms",
			"session_id", id,
			"error", err)
		v.Degraded = append(v.Degraded, CollaboratorTokenizer)
		return nil
	}
	return TopTerms(tokens, e.topTerms)
}

func (e *Extractor) itemFeatures(r model.SessionRecord, v *model.FeatureVector) {
	instructions := 0
	for _, t := range model.AllTaskTypes {
		m, ok := r.Tasks[t]
		if !ok {
			continue
		}
		for _, entry := range m.Entries {
			items := entry.Items()
			instructions += len(items)
			switch t {
			case model.TaskSummary:
				for _, it := range items {
					v.Values[FeatureSummaryLength] += float64(utf8.RuneCountInString(it.Output()))
				}
			case model.TaskQA:
				v.Values[FeatureQAPairCount] += float64(len(items))
			case model.TaskClassification:
				if v.Label == "" {
					v.Label = e.label(items)
				}
			}
		}
	}
	v.Values[FeatureInstructionCount] = float64(instructions)
}

// label returns the first labelled output among the classification items.
func (e *Extractor) label(items []model.InstructionItem) string {
	for _, it := range items {
		if _, ok := e.labelCategories[strings.TrimSpace(it.Category())]; !ok {
			continue
		}
		if out := strings.TrimSpace(it.Output()); out != "" {
			return out
		}
	}
	return ""
}

func categoryValue(v any) string {
	if v == nil {
		return model.MissingCategory
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return model.MissingCategory
	}
	return s
}

func countAll(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if k == "" {
			continue
		}
		n += strings.Count(text, k)
	}
	return n
}

func clamp(x, lo, hi float64) float64 {
	switch {
	case x < lo:
		return lo
	case x > hi:
		return hi
	default:
		return x
	}
}
