// Package pipeline runs submissions through assembly, feature extraction and
// classification, and records the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/callscore/internal/assembler"
	"github.com/Veraticus/callscore/internal/classifier"
	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/features"
	"github.com/Veraticus/callscore/internal/model"
	"github.com/Veraticus/callscore/internal/service"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Mode selects how Submit runs a submission.
type Mode string

// Processing modes.
const (
	ModeRealtime   Mode = "realtime"
	ModeBackground Mode = "background"
)

// ParseMode converts a flag value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRealtime, ModeBackground:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: processing mode %q", common.ErrInvalidConfig, s)
	}
}

// Result is the outcome reported for one session.
type Result struct {
	Confidence   *float64           `json:"confidence,omitempty"`
	SessionID    string             `json:"session_id"`
	Status       model.ResultStatus `json:"status"`
	Prediction   string             `json:"prediction,omitempty"`
	ModelVersion string             `json:"model_version,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Failed reports whether the session could not be classified.
func (r Result) Failed() bool {
	return r.Status == model.StatusFailed
}

// ResultFrom converts a persisted prediction into a Result.
func ResultFrom(p *model.PredictionResult) Result {
	r := Result{
		SessionID:    p.SessionID,
		Status:       p.Status,
		Prediction:   p.PredictedLabel,
		ModelVersion: p.ModelVersion,
		Error:        p.Error,
	}
	if p.Status == model.StatusCompleted {
		c := p.Confidence
		r.Confidence = &c
	}
	return r
}

// Processor classifies sessions. It is safe for concurrent use.
type Processor struct {
	parser    *assembler.Parser
	assembler *assembler.Assembler
	extractor *features.Extractor
	predictor *classifier.Predictor
	store     service.Storage
	inflight  map[string]int
	outputDir string
	wg        sync.WaitGroup
	workers   int
	mu        sync.Mutex
}

// Option configures a Processor.
type Option func(*Processor)

// WithStore records results and feature rows in store.
func WithStore(store service.Storage) Option {
	return func(p *Processor) { p.store = store }
}

// WithOutputDir writes merged and integrated session files under dir.
func WithOutputDir(dir string) Option {
	return func(p *Processor) { p.outputDir = dir }
}

// WithWorkers bounds the number of sessions processed concurrently by ProcessBatch.
func WithWorkers(n int) Option {
	return func(p *Processor) { p.workers = n }
}

// NewProcessor wires a processor from configuration and a loaded predictor.
func NewProcessor(cfg *config.Config, extractor *features.Extractor, predictor *classifier.Predictor, opts ...Option) *Processor {
	p := &Processor{
		parser:    assembler.NewParser(cfg.Assembly),
		assembler: assembler.New(cfg.Assembly.StripFields),
		extractor: extractor,
		predictor: predictor,
		inflight:  make(map[string]int),
		workers:   cfg.Pipeline.Workers,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers <= 0 {
		p.workers = 1
	}
	return p
}

// Process classifies one raw document. An empty sessionID is replaced by a
// generated UUID.
func (p *Processor) Process(ctx context.Context, rawJSON []byte, sessionID string) Result {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	raws, err := p.parser.ParseDocument(sessionID+".json", rawJSON, sessionID)
	if err != nil {
		return p.fail(ctx, sessionID, err)
	}
	return p.ProcessSession(ctx, sessionID, raws)
}

// ProcessSession assembles the given submissions of one session and
// classifies the result. Submissions of other sessions are ignored.
func (p *Processor) ProcessSession(ctx context.Context, sessionID string, raws []model.RawSubmission) Result {
	if sessionID == "" || sessionID == model.UnknownSessionID {
		err := fmt.Errorf("%w: session id %q", common.ErrUndeliverable, sessionID)
		slog.Warn("refusing to process session", "session_id", sessionID, "error", err)
		return Result{SessionID: sessionID, Status: model.StatusFailed, Error: err.Error()}
	}

	own := make([]model.RawSubmission, 0, len(raws))
	for _, raw := range raws {
		if raw.SessionID == sessionID {
			own = append(own, raw)
		}
	}

	records := assembler.Integrate(p.assembler.Assemble(own))
	if len(records) == 0 {
		return p.fail(ctx, sessionID, fmt.Errorf("%w: no submissions", common.ErrIncompleteSession))
	}
	record := records[0]

	if p.outputDir != "" {
		p.writeOutputs(record)
	}

	start := time.Now()
	vector := p.extractor.ExtractRecord(ctx, record)
	if p.store != nil {
		if err := p.store.AppendFeatureRow(ctx, &vector); err != nil {
			slog.Warn("failed to append feature row", "session_id", sessionID, "error", err)
		}
	}

	pred, err := p.predictor.PredictFeatures(sessionID, vector.Raw())
	if err != nil {
		return p.fail(ctx, sessionID, err)
	}

	result := &model.PredictionResult{
		ProcessedAt:    time.Now().UTC(),
		Features:       vector.Values,
		SessionID:      sessionID,
		PredictedLabel: pred.Label,
		Status:         model.StatusCompleted,
		ModelVersion:   p.predictor.Version(),
		Confidence:     pred.Confidence,
	}
	p.save(ctx, result)

	slog.Info("session classified",
		"session_id", sessionID,
		"label", pred.Label,
		"confidence", pred.Confidence,
		"degraded", vector.Degraded,
		"duration", time.Since(start))
	return ResultFrom(result)
}

// ProcessBatch groups submissions by session and processes the sessions
// concurrently. A failed session yields a failed Result and never stops the
// batch. Results are ordered like assembled sessions.
func (p *Processor) ProcessBatch(ctx context.Context, raws []model.RawSubmission) ([]Result, error) {
	bySession := make(map[string][]model.RawSubmission)
	for _, raw := range raws {
		id := raw.SessionID
		if id == "" {
			id = model.UnknownSessionID
		}
		bySession[id] = append(bySession[id], raw)
	}

	var ids []string
	for _, rec := range assembler.Integrate(p.assembler.Assemble(raws)) {
		ids = append(ids, rec.SessionID)
	}
	if _, ok := bySession[model.UnknownSessionID]; ok {
		ids = append(ids, model.UnknownSessionID)
	}

	results := make([]Result, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = p.ProcessSession(gctx, id, bySession[id])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Submit processes raw now (ModeRealtime) or in the background
// (ModeBackground), in which case it returns a processing Result at once.
// Background work continues after ctx is cancelled; use Wait to drain it.
func (p *Processor) Submit(ctx context.Context, rawJSON []byte, sessionID string, mode Mode) Result {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if mode != ModeBackground {
		return p.Process(ctx, rawJSON, sessionID)
	}

	p.mu.Lock()
	p.inflight[sessionID]++
	p.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			p.inflight[sessionID]--
			if p.inflight[sessionID] <= 0 {
				delete(p.inflight, sessionID)
			}
			p.mu.Unlock()
		}()
		p.Process(bg, rawJSON, sessionID)
	}()

	return Result{SessionID: sessionID, Status: model.StatusProcessing}
}

// Status reports the latest known outcome for a session.
func (p *Processor) Status(ctx context.Context, sessionID string) (Result, error) {
	p.mu.Lock()
	running := p.inflight[sessionID]
	p.mu.Unlock()
	if running > 0 {
		return Result{SessionID: sessionID, Status: model.StatusProcessing}, nil
	}

	if p.store == nil {
		return Result{SessionID: sessionID, Status: model.StatusNotFound}, nil
	}
	stored, err := p.store.GetPrediction(ctx, sessionID)
	if errors.Is(err, common.ErrNotFound) {
		return Result{SessionID: sessionID, Status: model.StatusNotFound}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return ResultFrom(stored), nil
}

// Wait blocks until every background submission has finished.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) fail(ctx context.Context, sessionID string, err error) Result {
	common.LogError(err, "session processing failed", common.Fields{
		"session_id": sessionID,
		"schema":     common.IsSchemaError(err),
	})
	result := &model.PredictionResult{
		ProcessedAt: time.Now().UTC(),
		SessionID:   sessionID,
		Status:      model.StatusFailed,
		Error:       err.Error(),
	}
	p.save(ctx, result)
	return ResultFrom(result)
}

func (p *Processor) save(ctx context.Context, result *model.PredictionResult) {
	if p.store == nil {
		return
	}
	if err := p.store.SavePrediction(ctx, result); err != nil {
		slog.Warn("failed to record result", "session_id", result.SessionID, "error", err)
	}
}

func (p *Processor) writeOutputs(record model.SessionRecord) {
	merged := make([]model.MergedSession, 0, len(record.Tasks))
	for _, t := range model.AllTaskTypes {
		if m, ok := record.Tasks[t]; ok {
			merged = append(merged, m)
		}
	}
	if _, err := assembler.WriteMerged(p.outputDir, merged); err != nil {
		slog.Warn("failed to write merged sessions", "session_id", record.SessionID, "error", err)
	}
	if _, err := assembler.WriteIntegrated(p.outputDir, []model.SessionRecord{record}); err != nil {
		slog.Warn("failed to write integrated session", "session_id", record.SessionID, "error", err)
	}
}
