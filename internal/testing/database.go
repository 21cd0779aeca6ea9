package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/teranos/factgraph/db"
)

// CreateTestDB creates a migrated SQLite database in a per-test temp dir.
// A file-backed database is used so that every pooled connection sees the
// same schema. Cleanup is registered via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "factgraph-test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}
