package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/model"
)

// AppendFeatureRow adds one extracted feature vector to the accumulation table.
func (s *SQLiteStorage) AppendFeatureRow(ctx context.Context, row *model.FeatureVector) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateFeatureRow(row); err != nil {
		return err
	}

	values, err := json.Marshal(row.Values)
	if err != nil {
		return fmt.Errorf("failed to encode numeric features: %w", err)
	}
	categorical, err := json.Marshal(row.Categorical)
	if err != nil {
		return fmt.Errorf("failed to encode categorical features: %w", err)
	}
	terms, err := json.Marshal(row.TopTerms)
	if err != nil {
		return fmt.Errorf("failed to encode top terms: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feature_rows (session_id, label, numeric_values, categorical_values, top_terms)
		VALUES (?, ?, ?, ?, ?)
	`, row.SessionID, row.Label, string(values), string(categorical), string(terms))
	if err != nil {
		return fmt.Errorf("failed to append feature row: %w", err)
	}
	return nil
}

// ListFeatureRows returns the latest feature row of every session, ordered by
// when that row was appended. Earlier rows of a reprocessed session are
// superseded.
func (s *SQLiteStorage) ListFeatureRows(ctx context.Context) ([]model.FeatureVector, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, label, numeric_values, categorical_values, top_terms
		FROM feature_rows
		WHERE id IN (SELECT MAX(id) FROM feature_rows GROUP BY session_id)
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.FeatureVector
	for rows.Next() {
		var (
			v                           model.FeatureVector
			label, terms                sql.NullString
			valuesJSON, categoricalJSON string
		)
		if err := rows.Scan(&v.SessionID, &label, &valuesJSON, &categoricalJSON, &terms); err != nil {
			return nil, fmt.Errorf("failed to scan feature row: %w", err)
		}
		v.Label = label.String
		if err := json.Unmarshal([]byte(valuesJSON), &v.Values); err != nil {
			return nil, fmt.Errorf("%w: feature row of session %s: %v", common.ErrDatabaseCorrupted, v.SessionID, err)
		}
		if err := json.Unmarshal([]byte(categoricalJSON), &v.Categorical); err != nil {
			return nil, fmt.Errorf("%w: feature row of session %s: %v", common.ErrDatabaseCorrupted, v.SessionID, err)
		}
		if terms.Valid && terms.String != "" {
			if err := json.Unmarshal([]byte(terms.String), &v.TopTerms); err != nil {
				return nil, fmt.Errorf("%w: feature row of session %s: %v", common.ErrDatabaseCorrupted, v.SessionID, err)
			}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
