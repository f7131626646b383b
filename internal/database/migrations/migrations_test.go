package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	for _, table := range []string{"fingerprints", "deletions", "runs", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	err := CheckDBMigrationStatus(db)
	if !errors.Is(err, ErrNoSchema) {
		t.Fatalf("CheckDBMigrationStatus() error = %v, want ErrNoSchema", err)
	}
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q", err.Error())
	}
}

func TestCheckDBMigrationStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}
	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("first MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Errorf("second MigrateUp() failed: %v", err)
	}
}

func TestInspect(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	st, err := Inspect(db)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if st.Latest != 2 {
		t.Errorf("Latest = %d, want 2", st.Latest)
	}
	if !st.UpToDate() {
		t.Errorf("UpToDate() = false for %+v", st)
	}
}

func TestSchema_JournalIDsNeverReused(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	insert := `INSERT INTO deletions (item_id, origin_fingerprint, deletion_timestamp, classification, created_at)
		VALUES (1, '{}', 10, 'full_message', 10)`
	if _, err := db.Exec(insert); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := db.Exec("DELETE FROM deletions"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	res, err := db.Exec(insert)
	if err != nil {
		t.Fatalf("second insert failed: %v", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("LastInsertId() error = %v", err)
	}
	if id != 2 {
		t.Errorf("journal_id after delete = %d, want 2", id)
	}
}

func TestSchema_FingerprintPrimaryKey(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	insert := "INSERT INTO fingerprints (item_id, content_hash, timestamp) VALUES (7, 'a', 1)"
	if _, err := db.Exec(insert); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := db.Exec(insert); err == nil {
		t.Error("expected primary key violation for duplicate item_id")
	}
}

// openTestDB opens an in-memory SQLite database pinned to one connection.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	return db
}
