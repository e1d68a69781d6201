package testutil

import (
	"testing"

	"fsledger/internal/database"
)

// NewTestStore creates an in-memory SQLite store with all migrations applied.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()

	store, err := database.NewSQLiteStore(":memory:", false)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := store.MigrateUp(); err != nil {
		store.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// NewCaseInsensitiveTestStore is NewTestStore with NOCASE sibling matching.
func NewCaseInsensitiveTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()

	store, err := database.NewSQLiteStore(":memory:", true)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := store.MigrateUp(); err != nil {
		store.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
