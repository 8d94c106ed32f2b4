package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Veraticus/callscore/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrNilParameter      = errors.New("parameter cannot be nil")
	ErrInvalidStatus     = errors.New("invalid result status")
	ErrInvalidResult     = errors.New("invalid prediction result")
	ErrInvalidState      = errors.New("invalid session state")
	ErrInvalidFeatureRow = errors.New("invalid feature row")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateResult(r *model.PredictionResult) error {
	if r == nil {
		return fmt.Errorf("%w: result", ErrNilParameter)
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return fmt.Errorf("%w: missing session id", ErrInvalidResult)
	}

	switch r.Status {
	case model.StatusProcessing, model.StatusFailed, model.StatusNotFound:
	case model.StatusCompleted:
		if strings.TrimSpace(r.PredictedLabel) == "" {
			return fmt.Errorf("%w: completed result without a label", ErrInvalidResult)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status)
	}

	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidResult)
	}
	return nil
}

func validateState(st *model.SessionCompletionState) error {
	if strings.TrimSpace(st.SessionID) == "" {
		return fmt.Errorf("%w: missing session id", ErrInvalidState)
	}
	switch st.State {
	case model.CompletionEmpty, model.CompletionPartial, model.CompletionComplete, model.CompletionProcessed:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidState, st.State)
	}
	return nil
}

func validateFeatureRow(v *model.FeatureVector) error {
	if v == nil {
		return fmt.Errorf("%w: feature row", ErrNilParameter)
	}
	if strings.TrimSpace(v.SessionID) == "" {
		return fmt.Errorf("%w: missing session id", ErrInvalidFeatureRow)
	}
	return nil
}
