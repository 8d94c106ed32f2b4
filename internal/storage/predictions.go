package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/model"
	"github.com/Veraticus/callscore/internal/service"
)

// queryable is satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SavePrediction upserts the latest result for a session and appends it to
// the history.
func (s *SQLiteStorage) SavePrediction(ctx context.Context, result *model.PredictionResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateResult(result); err != nil {
		return err
	}
	if result.ProcessedAt.IsZero() {
		result.ProcessedAt = time.Now().UTC()
	}

	var features sql.NullString
	if len(result.Features) > 0 {
		data, err := json.Marshal(result.Features)
		if err != nil {
			return fmt.Errorf("failed to encode features: %w", err)
		}
		features = sql.NullString{String: string(data), Valid: true}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO predictions (
				session_id, status, predicted_label, confidence,
				model_version, error, features, processed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				status = excluded.status,
				predicted_label = excluded.predicted_label,
				confidence = excluded.confidence,
				model_version = excluded.model_version,
				error = excluded.error,
				features = excluded.features,
				processed_at = excluded.processed_at
		`,
			result.SessionID,
			string(result.Status),
			result.PredictedLabel,
			result.Confidence,
			result.ModelVersion,
			result.Error,
			features,
			result.ProcessedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save prediction: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO prediction_history (
				session_id, status, predicted_label, confidence,
				model_version, error, processed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			result.SessionID,
			string(result.Status),
			result.PredictedLabel,
			result.Confidence,
			result.ModelVersion,
			result.Error,
			result.ProcessedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save prediction history: %w", err)
		}
		return nil
	})
}

// GetPrediction returns the latest result for a session, or common.ErrNotFound.
func (s *SQLiteStorage) GetPrediction(ctx context.Context, sessionID string) (*model.PredictionResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(sessionID, "sessionID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, status, predicted_label, confidence,
			model_version, error, features, processed_at
		FROM predictions
		WHERE session_id = ?
	`, sessionID)

	r, err := scanPrediction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prediction for session %s: %w", sessionID, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListPredictions returns the latest results, newest first.
func (s *SQLiteStorage) ListPredictions(ctx context.Context, filter service.PredictionFilter) ([]model.PredictionResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.Since != nil {
		where = append(where, "processed_at >= ?")
		args = append(args, *filter.Since)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT session_id, status, predicted_label, confidence,
		model_version, error, features, processed_at
		FROM predictions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY processed_at DESC, session_id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	return s.queryPredictions(ctx, s.db, query, args...)
}

// GetPredictionHistory returns every recorded result for a session, oldest first.
func (s *SQLiteStorage) GetPredictionHistory(ctx context.Context, sessionID string) ([]model.PredictionResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(sessionID, "sessionID"); err != nil {
		return nil, err
	}
	return s.queryPredictions(ctx, s.db, `
		SELECT session_id, status, predicted_label, confidence,
			model_version, error, NULL, processed_at
		FROM prediction_history
		WHERE session_id = ?
		ORDER BY id
	`, sessionID)
}

func (s *SQLiteStorage) queryPredictions(ctx context.Context, q queryable, query string, args ...any) ([]model.PredictionResult, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []model.PredictionResult
	for rows.Next() {
		r, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row scanner) (*model.PredictionResult, error) {
	var (
		r        model.PredictionResult
		status   string
		label    sql.NullString
		version  sql.NullString
		errText  sql.NullString
		features sql.NullString
	)
	err := row.Scan(
		&r.SessionID,
		&status,
		&label,
		&r.Confidence,
		&version,
		&errText,
		&features,
		&r.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan prediction: %w", err)
	}

	r.Status = model.ResultStatus(status)
	r.PredictedLabel = label.String
	r.ModelVersion = version.String
	r.Error = errText.String
	if features.Valid && features.String != "" {
		if err := json.Unmarshal([]byte(features.String), &r.Features); err != nil {
			return nil, fmt.Errorf("%w: features of session %s: %v", common.ErrDatabaseCorrupted, r.SessionID, err)
		}
	}
	return &r, nil
}
