// Package service defines the interfaces shared by the pipeline and its
// persistence layer.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/callscore/internal/model"
)

// PredictionFilter narrows prediction listings.
type PredictionFilter struct {
	Since  *time.Time
	Status model.ResultStatus
	Limit  int
	Offset int
}

// Storage defines the contract for the result store.
type Storage interface {
	// Prediction operations
	SavePrediction(ctx context.Context, result *model.PredictionResult) error
	GetPrediction(ctx context.Context, sessionID string) (*model.PredictionResult, error)
	ListPredictions(ctx context.Context, filter PredictionFilter) ([]model.PredictionResult, error)
	GetPredictionHistory(ctx context.Context, sessionID string) ([]model.PredictionResult, error)

	// Feature accumulation
	AppendFeatureRow(ctx context.Context, row *model.FeatureVector) error
	ListFeatureRows(ctx context.Context) ([]model.FeatureVector, error)

	// Completion gate state
	SaveSessionState(ctx context.Context, state model.SessionCompletionState) error
	GetSessionState(ctx context.Context, sessionID string) (*model.SessionCompletionState, error)
	ListSessionStates(ctx context.Context) ([]model.SessionCompletionState, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}
