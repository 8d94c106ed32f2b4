package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/Veraticus/callscore/internal/model"
)

// SaveSessionState upserts the completion state of a session.
func (s *SQLiteStorage) SaveSessionState(ctx context.Context, st model.SessionCompletionState) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateState(&st); err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}

	received, err := json.Marshal(st.Received.Sorted())
	if err != nil {
		return fmt.Errorf("failed to encode received task types: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_states (session_id, state, received, last_error, runs, armed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			received = excluded.received,
			last_error = excluded.last_error,
			runs = excluded.runs,
			armed = excluded.armed,
			updated_at = excluded.updated_at
	`, st.SessionID, string(st.State), string(received), st.LastError, st.Runs, st.Armed, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save session state: %w", err)
	}
	return nil
}

// GetSessionState returns one session's state, or common.ErrNotFound.
func (s *SQLiteStorage) GetSessionState(ctx context.Context, sessionID string) (*model.SessionCompletionState, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(sessionID, "sessionID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, state, received, last_error, runs, armed, updated_at
		FROM session_states
		WHERE session_id = ?
	`, sessionID)
	st, err := scanSessionState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session state %s: %w", sessionID, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// ListSessionStates returns every persisted session state ordered by session id.
func (s *SQLiteStorage) ListSessionStates(ctx context.Context) ([]model.SessionCompletionState, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, state, received, last_error, runs, armed, updated_at
		FROM session_states
		ORDER BY session_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query session states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.SessionCompletionState
	for rows.Next() {
		st, err := scanSessionState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func scanSessionState(row scanner) (*model.SessionCompletionState, error) {
	var (
		st        model.SessionCompletionState
		state     string
		received  string
		lastError sql.NullString
	)
	err := row.Scan(&st.SessionID, &state, &received, &lastError, &st.Runs, &st.Armed, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session state: %w", err)
	}

	var types []model.TaskType
	if err := json.Unmarshal([]byte(received), &types); err != nil {
		return nil, fmt.Errorf("%w: received task types of session %s: %v", common.ErrDatabaseCorrupted, st.SessionID, err)
	}
	st.State = model.CompletionState(state)
	st.Received = model.NewTaskSet(types...)
	st.LastError = lastError.String
	return &st, nil
}
