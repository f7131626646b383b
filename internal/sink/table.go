package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"imessage-undeleter/internal/config"
	"imessage-undeleter/internal/tracker"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    journal_id INTEGER PRIMARY KEY,
    item_id INTEGER NOT NULL,
    deletion_timestamp INTEGER NOT NULL,
    classification TEXT NOT NULL,
    recovered_content TEXT,
    recovered_attachments TEXT NOT NULL,
    origin_fingerprint TEXT NOT NULL,
    metadata TEXT NOT NULL,
    created_at INTEGER NOT NULL
)`

// TableSink writes records into a table of an embedded SQLite database,
// separate from the tracker's own state store. Records are keyed by journal
// id, so a repeated delivery is ignored.
type TableSink struct {
	name  string
	path  string
	table string
	clock tracker.Clock

	mu     sync.Mutex
	db     *sql.DB
	insert string
}

var _ tracker.Sink = (*TableSink)(nil)

func NewTableSink(name, path, table string, clock tracker.Clock) *TableSink {
	if clock == nil {
		clock = tracker.RealClock{}
	}
	return &TableSink{name: name, path: path, table: table, clock: clock}
}

func (s *TableSink) Name() string { return s.name }

func (s *TableSink) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// the table name is interpolated into SQL
	if !config.ValidTableName(s.table) {
		return fmt.Errorf("invalid table name %q", s.table)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating directory for %s: %w", s.path, err)
	}

	db, err := sql.Open("sqlite3", s.path+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.path, err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(createTableSQL, s.table)); err != nil {
		db.Close()
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}

	s.db = db
	s.insert = fmt.Sprintf(`INSERT OR IGNORE INTO %s (
    journal_id, item_id, deletion_timestamp, classification, recovered_content,
    recovered_attachments, origin_fingerprint, metadata, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	return nil
}

func (s *TableSink) Deliver(ctx context.Context, rec *tracker.DeletionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return deliverError(s.name, rec, errNotInitialized)
	}

	attachments, err := json.Marshal(nonNil(rec.RecoveredAttachments))
	if err != nil {
		return deliverError(s.name, rec, err)
	}
	origin, err := json.Marshal(rec.Origin)
	if err != nil {
		return deliverError(s.name, rec, err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return deliverError(s.name, rec, err)
	}

	var content sql.NullString
	if rec.RecoveredContent != nil {
		content = sql.NullString{String: *rec.RecoveredContent, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, s.insert,
		rec.JournalID,
		rec.ItemID,
		rec.DeletedAt.UTC().UnixNano(),
		string(rec.Classification),
		content,
		string(attachments),
		string(origin),
		string(metadata),
		s.clock.Now().UTC().UnixNano(),
	)
	if err != nil {
		return deliverError(s.name, rec, err)
	}
	return nil
}

func (s *TableSink) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
