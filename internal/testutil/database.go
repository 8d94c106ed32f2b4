// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Veraticus/callscore/internal/storage"
)

// SetupTestDB creates a migrated in-memory database that is closed when the
// test ends.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	err := db.SavePrediction(ctx, result)
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	return setup(t, ":memory:")
}

// SetupFileDB creates a migrated database file under t.TempDir(). Use it when
// a test reopens the same database.
func SetupFileDB(t *testing.T) (*storage.SQLiteStorage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "callscore.db")
	return setup(t, path), path
}

func setup(t *testing.T, path string) *storage.SQLiteStorage {
	t.Helper()

	db, err := storage.NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}
