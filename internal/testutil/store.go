package testutil

import (
	"testing"

	"imessage-undeleter/internal/database"
)

// NewTestStore creates an in-memory fingerprint store with the schema applied.
// The store is closed when the test completes.
func NewTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := sqlDB.Exec(database.Schema); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	s := database.NewSQLiteStoreFromDB(sqlDB)
	t.Cleanup(func() { s.Close() })
	return s
}
