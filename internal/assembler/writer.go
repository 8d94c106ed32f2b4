package assembler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Veraticus/callscore/internal/model"
)

// MergedFileName is the artifact name for one merged task type of a session.
func MergedFileName(m model.MergedSession) string {
	return fmt.Sprintf("merged_%s_%s.json", m.TaskType, m.SessionID)
}

// IntegratedFileName is the artifact name for an integrated session.
func IntegratedFileName(sessionID string) string {
	return fmt.Sprintf("final_merged_%s.json", sessionID)
}

// WriteMerged writes one file per merged session and returns the written paths.
// Undeliverable sessions are not written.
func WriteMerged(dir string, merged []model.MergedSession) ([]string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	paths := make([]string, 0, len(merged))
	for _, m := range merged {
		if m.SessionID == model.UnknownSessionID {
			slog.Warn("not writing undeliverable merged session", "task_type", m.TaskType)
			continue
		}
		path := filepath.Join(dir, MergedFileName(m))
		if err := writeJSON(path, m); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteIntegrated writes one file per integrated session record.
func WriteIntegrated(dir string, records []model.SessionRecord) ([]string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	paths := make([]string, 0, len(records))
	for _, r := range records {
		path := filepath.Join(dir, IntegratedFileName(r.SessionID))
		if err := writeJSON(path, r); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
