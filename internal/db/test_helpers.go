package db

import (
	"path/filepath"
	"testing"
)

// NewTestDB creates a migrated database in a temporary directory that is
// closed when the test ends.
func NewTestDB(t testing.TB) *DB {
	t.Helper()
	database, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}
