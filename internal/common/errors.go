// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound          = errors.New("not found")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// Input errors. These are recovered locally and never abort a batch.
	ErrUnknownTaskType     = errors.New("cannot determine task type")
	ErrMalformedSubmission = errors.New("malformed submission")
	ErrUndeliverable       = errors.New("session id is unknown; result is undeliverable")
	ErrIncompleteSession   = errors.New("session is missing required task types")

	// Schema errors. These are fatal: serving wrong-shaped data yields wrong predictions.
	ErrIncompleteBundle = errors.New("incomplete model bundle")
	ErrSchemaMismatch   = errors.New("feature schema mismatch")
	ErrUnknownLabel     = errors.New("unknown label")

	// Collaborator errors. These degrade features instead of failing a session.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// Training errors.
	ErrNoTrainingData = errors.New("no training data")
	ErrNoLabelledRows = errors.New("no labelled rows")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsSchemaError reports whether err must stop serving rather than degrade.
func IsSchemaError(err error) bool {
	return errors.Is(err, ErrIncompleteBundle) || errors.Is(err, ErrSchemaMismatch)
}
