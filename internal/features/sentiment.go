package features

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// SentimentAnalyzer scores a transcript in [-1, 1].
type SentimentAnalyzer interface {
	Analyze(ctx context.Context, id, text string) (float64, error)
	Name() string
}

// NewSentimentAnalyzer builds the configured analyzer. It returns nil for the
// "none" provider, in which case sentiment is always 0.
func NewSentimentAnalyzer(ctx context.Context, cfg config.Config) (SentimentAnalyzer, error) {
	switch cfg.Sentiment.Provider {
	case config.SentimentNone:
		return nil, nil
	case config.SentimentLexicon, "":
		return lexiconFromGroups(cfg.Features.KeywordGroups), nil
	case config.SentimentHTTP:
		a, err := NewHTTPAnalyzer(ctx, cfg.Sentiment)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("%w: sentiment provider %q", common.ErrInvalidConfig, cfg.Sentiment.Provider)
	}
}

// LexiconAnalyzer scores by the balance of positive and negative keyword hits.
type LexiconAnalyzer struct {
	positive []string
	negative []string
}

// NewLexiconAnalyzer creates a keyword-based analyzer.
func NewLexiconAnalyzer(positive, negative []string) *LexiconAnalyzer {
	return &LexiconAnalyzer{positive: positive, negative: negative}
}

// lexiconFromGroups uses the "positive" and "negative" keyword groups.
func lexiconFromGroups(groups []config.KeywordGroup) *LexiconAnalyzer {
	var pos, neg []string
	for _, g := range groups {
		switch g.Name {
		case "positive":
			pos = g.Keywords
		case "negative":
			neg = g.Keywords
		}
	}
	return NewLexiconAnalyzer(pos, neg)
}

// Name implements SentimentAnalyzer.
func (a *LexiconAnalyzer) Name() string { return "lexicon" }

// Analyze implements SentimentAnalyzer.
func (a *LexiconAnalyzer) Analyze(_ context.Context, _ string, text string) (float64, error) {
	pos := countAll(text, a.positive)
	neg := countAll(text, a.negative)
	if pos+neg == 0 {
		return 0, nil
	}
	return float64(pos-neg) / float64(pos+neg), nil
}

// sentimentRequest and sentimentResponse follow the batch inference API shape.
type sentimentRequest struct {
	ContentID string `json:"content_id"`
	Text      string `json:"text"`
}

type sentimentResponse struct {
	ContentID      string  `json:"content_id"`
	SentimentLabel string  `json:"sentiment_label"`
	SentimentScore float64 `json:"sentiment_score"`
	Confidence     float64 `json:"confidence"`
}

// HTTPAnalyzer calls a remote sentiment inference endpoint.
type HTTPAnalyzer struct {
	httpClient *http.Client
	limiter    *rateLimiter
	cache      *scoreCache
	endpoint   string
	retry      common.RetryOptions
}

// NewHTTPAnalyzer creates an analyzer for cfg.Endpoint. When client
// credentials are configured, requests carry an OAuth2 bearer token.
// RequestsPerMinute throttles calls and CacheTTL keeps scores of transcripts
// already analyzed; zero disables either.
func NewHTTPAnalyzer(ctx context.Context, cfg config.SentimentConfig) (*HTTPAnalyzer, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: sentiment endpoint", common.ErrMissingConfig)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	base := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	client := base
	if cfg.ClientID != "" && cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		client = cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
		client.Timeout = timeout
	}

	return &HTTPAnalyzer{
		httpClient: client,
		limiter:    newRateLimiter(cfg.RequestsPerMinute),
		cache:      newScoreCache(cfg.CacheTTL),
		endpoint:   cfg.Endpoint,
		retry: common.RetryOptions{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
		},
	}, nil
}

// Name implements SentimentAnalyzer.
func (a *HTTPAnalyzer) Name() string { return "http" }

// Analyze implements SentimentAnalyzer.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, id, text string) (float64, error) {
	key := cacheKey(id, text)
	if score, ok := a.cache.get(key); ok {
		return score, nil
	}

	body, err := json.Marshal([]sentimentRequest{{ContentID: id, Text: text}})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	var score float64
	err = common.WithRetry(ctx, func() error {
		if err := a.limiter.wait(ctx); err != nil {
			return &common.RetryableError{Err: err, Retryable: false}
		}
		s, callErr := a.call(ctx, id, body)
		if callErr != nil {
			return callErr
		}
		score = s
		return nil
	}, a.retry)
	if err != nil {
		return 0, fmt.Errorf("%w: sentiment: %w", common.ErrCollaboratorUnavailable, err)
	}
	score = clamp(score, -1, 1)
	a.cache.set(key, score)
	return score, nil
}

func (a *HTTPAnalyzer) call(ctx context.Context, id string, body []byte) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, &common.RetryableError{Err: fmt.Errorf("failed to create request: %w", err), Retryable: false}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, common.ErrRateLimit
	case resp.StatusCode >= http.StatusInternalServerError:
		return 0, fmt.Errorf("sentiment API error (status %d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return 0, &common.RetryableError{
			Err:       fmt.Errorf("sentiment API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data))),
			Retryable: false,
		}
	}

	var results []sentimentResponse
	if err := json.Unmarshal(data, &results); err != nil {
		return 0, &common.RetryableError{Err: fmt.Errorf("failed to parse response: %w", err), Retryable: false}
	}
	for _, r := range results {
		if r.ContentID == id || len(results) == 1 {
			return r.SentimentScore, nil
		}
	}
	return 0, &common.RetryableError{Err: fmt.Errorf("no result for %s", id), Retryable: false}
}
