package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// ErrNoSchema is returned when the state database has never been migrated.
var ErrNoSchema = errors.New("database has no schema version (needs migration)")

// Status describes the schema version of a state database.
type Status struct {
	Current uint
	Latest  uint
	Dirty   bool
}

// UpToDate reports whether the schema is exactly at the latest version.
func (s Status) UpToDate() bool {
	return !s.Dirty && s.Current == s.Latest
}

// Inspect reads the schema version of db and the latest embedded version.
// It never migrates. The caller keeps ownership of db.
func Inspect(db *sql.DB) (Status, error) {
	var st Status

	latest, err := latestVersion()
	if err != nil {
		return st, err
	}
	st.Latest = latest

	m, err := newMigrate(db)
	if err != nil {
		return st, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// m is not closed: closing it would close db.
	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return st, ErrNoSchema
		}
		return st, fmt.Errorf("failed to get database version: %w", err)
	}
	st.Current = version
	st.Dirty = dirty
	return st, nil
}

// CheckDBMigrationStatus returns nil only when db is at the latest version.
func CheckDBMigrationStatus(db *sql.DB) error {
	st, err := Inspect(db)
	if err != nil {
		return err
	}

	switch {
	case st.Dirty:
		return fmt.Errorf("database is in dirty state at version %d (migration failed previously)", st.Current)
	case st.Current < st.Latest:
		return fmt.Errorf("database is at version %d but latest is %d (%d migrations behind)",
			st.Current, st.Latest, st.Latest-st.Current)
	case st.Current > st.Latest:
		return fmt.Errorf("database version %d is ahead of binary version %d (binary needs update)",
			st.Current, st.Latest)
	}
	return nil
}

// MigrateUp applies every pending migration. An up-to-date database is not an error.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func newSource() (source.Driver, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration files: %w", err)
	}
	return src, nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := newSource()
	if err != nil {
		return nil, err
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, err
	}
	return m, nil
}

// latestVersion walks the embedded migrations and returns the highest version.
func latestVersion() (uint, error) {
	src, err := newSource()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("failed to determine latest version: %w", err)
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
