package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"imessage-undeleter/internal/database/migrations"
	"imessage-undeleter/internal/database/sqlc"
	"imessage-undeleter/internal/tracker"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements tracker.FingerprintStore on SQLite.
// Writes take an exclusive lock; reads share a reader lock so diagnostic
// queries can run next to the tracker loop.
type SQLiteStore struct {
	mu      sync.RWMutex
	db      *sql.DB
	queries *sqlc.Queries
	path    string
}

var _ tracker.FingerprintStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens the state database at path.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{
		db:      db,
		queries: sqlc.New(db),
		path:    path,
	}, nil
}

// NewSQLiteStoreFromDB wraps an existing connection. The caller is
// responsible for configuring it.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:      db,
		queries: sqlc.New(db),
	}
}

// OpenConnection opens a SQLite connection with the PRAGMAs the store relies on.
// In-memory databases are pinned to a single connection so every query sees
// the same database.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Fingerprints

func (s *SQLiteStore) GetFingerprint(ctx context.Context, id int64) (*tracker.Fingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, err := s.queries.GetFingerprint(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting fingerprint %d: %w", id, err)
	}
	return fingerprintFromRow(row)
}

func (s *SQLiteStore) PutFingerprint(ctx context.Context, fp *tracker.Fingerprint) error {
	params, err := fingerprintParams(fp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.queries.UpsertFingerprint(ctx, params); err != nil {
		return fmt.Errorf("storing fingerprint %d: %w", fp.ItemID, err)
	}
	return nil
}

func (s *SQLiteStore) BatchPutFingerprints(ctx context.Context, fps []*tracker.Fingerprint) error {
	params := make([]sqlc.UpsertFingerprintParams, 0, len(fps))
	for _, fp := range fps {
		p, err := fingerprintParams(fp)
		if err != nil {
			return err
		}
		params = append(params, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)
	for _, p := range params {
		if err := qtx.UpsertFingerprint(ctx, p); err != nil {
			return fmt.Errorf("storing fingerprint %d: %w", p.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing fingerprints: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TrackedItemIDs(ctx context.Context, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.queries.ListTrackedItemIDs(ctx, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing tracked items: %w", err)
	}
	return ids, nil
}

// Deletion journal

func (s *SQLiteStore) AppendDeletion(ctx context.Context, rec *tracker.DeletionRecord) (int64, error) {
	params, err := deletionParams(rec)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.queries.InsertDeletion(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("appending deletion for item %d: %w", rec.ItemID, err)
	}
	return id, nil
}

func (s *SQLiteStore) CommitChanges(ctx context.Context, recs []*tracker.DeletionRecord, baselines []*tracker.Fingerprint) error {
	deletions := make([]sqlc.InsertDeletionParams, 0, len(recs))
	for _, rec := range recs {
		p, err := deletionParams(rec)
		if err != nil {
			return err
		}
		deletions = append(deletions, p)
	}
	fingerprints := make([]sqlc.UpsertFingerprintParams, 0, len(baselines))
	for _, fp := range baselines {
		p, err := fingerprintParams(fp)
		if err != nil {
			return err
		}
		fingerprints = append(fingerprints, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)
	ids := make([]int64, len(deletions))
	for i, p := range deletions {
		id, err := qtx.InsertDeletion(ctx, p)
		if err != nil {
			return fmt.Errorf("appending deletion for item %d: %w", recs[i].ItemID, err)
		}
		ids[i] = id
	}
	for _, p := range fingerprints {
		if err := qtx.UpsertFingerprint(ctx, p); err != nil {
			return fmt.Errorf("storing fingerprint %d: %w", p.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing changes: %w", err)
	}
	for i, rec := range recs {
		rec.JournalID = ids[i]
	}
	return nil
}

func (s *SQLiteStore) QueryDeletions(ctx context.Context, since, until time.Time, limit int) ([]*tracker.DeletionRecord, error) {
	upper := int64(math.MaxInt64)
	if !until.IsZero() {
		upper = until.UnixNano()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.queries.ListDeletionsBetween(ctx, sqlc.ListDeletionsBetweenParams{
		Since: lowerBound(since),
		Until: upper,
		Limit: sqlLimit(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("querying deletions: %w", err)
	}

	records := make([]*tracker.DeletionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := deletionFromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Retention

func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (tracker.PurgeResult, error) {
	var res tracker.PurgeResult
	ts := cutoff.UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)
	if res.Fingerprints, err = qtx.DeleteFingerprintsBefore(ctx, ts); err != nil {
		return tracker.PurgeResult{}, fmt.Errorf("purging fingerprints: %w", err)
	}
	if res.Deletions, err = qtx.DeleteDeletionsBefore(ctx, ts); err != nil {
		return tracker.PurgeResult{}, fmt.Errorf("purging deletions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return tracker.PurgeResult{}, fmt.Errorf("committing purge: %w", err)
	}
	return res, nil
}

// Summary holds row counts for status output.
type Summary struct {
	Fingerprints int64
	Deletions    int64
}

// Summary counts fingerprints and journal entries.
func (s *SQLiteStore) Summary(ctx context.Context) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum Summary
	var err error
	if sum.Fingerprints, err = s.queries.CountFingerprints(ctx); err != nil {
		return Summary{}, fmt.Errorf("counting fingerprints: %w", err)
	}
	if sum.Deletions, err = s.queries.CountDeletions(ctx); err != nil {
		return Summary{}, fmt.Errorf("counting deletions: %w", err)
	}
	return sum, nil
}

// Run history

func (s *SQLiteStore) CreateRun(ctx context.Context, operation string, startedAt time.Time) (*sqlc.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.queries.InsertRun(ctx, sqlc.InsertRunParams{
		Operation: operation,
		StartedAt: startedAt.UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	return &run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id int64, status string, finishedAt time.Time, stats tracker.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.queries.FinishRun(ctx, sqlc.FinishRunParams{
		FinishedAt:        sql.NullInt64{Int64: finishedAt.UnixNano(), Valid: true},
		Status:            status,
		EventsProcessed:   stats.EventsProcessed,
		DeletionsDetected: stats.DeletionsDetected,
		ID:                id,
	})
	if err != nil {
		return fmt.Errorf("finishing run %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*sqlc.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs, err := s.queries.ListRuns(ctx, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	result := make([]*sqlc.Run, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteStore) Path() string {
	return s.path
}

// Migrate brings the schema to the latest version.
func (s *SQLiteStore) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(destPath string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Row conversion

func fingerprintParams(fp *tracker.Fingerprint) (sqlc.UpsertFingerprintParams, error) {
	hashes, err := encodeJSON(fp.AttachmentHashes, "[]")
	if err != nil {
		return sqlc.UpsertFingerprintParams{}, fmt.Errorf("encoding attachment hashes: %w", err)
	}
	atts, err := encodeJSON(fp.Attachments, "[]")
	if err != nil {
		return sqlc.UpsertFingerprintParams{}, fmt.Errorf("encoding attachments: %w", err)
	}
	var removed int64
	if fp.Removed {
		removed = 1
	}
	return sqlc.UpsertFingerprintParams{
		ItemID:           fp.ItemID,
		ContentHash:      fp.ContentHash,
		AttachmentHashes: hashes,
		Attachments:      atts,
		Content:          nullString(fp.Content),
		Timestamp:        fp.Timestamp.UnixNano(),
		ConversationID:   fp.ConversationID,
		SenderIdentity:   fp.SenderIdentity,
		Removed:          removed,
	}, nil
}

func fingerprintFromRow(row sqlc.Fingerprint) (*tracker.Fingerprint, error) {
	fp := &tracker.Fingerprint{
		ItemID:         row.ItemID,
		ContentHash:    row.ContentHash,
		Timestamp:      fromUnixNano(row.Timestamp),
		ConversationID: row.ConversationID,
		SenderIdentity: row.SenderIdentity,
		Content:        stringPtr(row.Content),
		Removed:        row.Removed != 0,
	}
	if err := decodeJSON(row.AttachmentHashes, &fp.AttachmentHashes); err != nil {
		return nil, fmt.Errorf("decoding attachment hashes of item %d: %w", row.ItemID, err)
	}
	if err := decodeJSON(row.Attachments, &fp.Attachments); err != nil {
		return nil, fmt.Errorf("decoding attachments of item %d: %w", row.ItemID, err)
	}
	if len(fp.AttachmentHashes) == 0 {
		fp.AttachmentHashes = nil
	}
	if len(fp.Attachments) == 0 {
		fp.Attachments = nil
	}
	return fp, nil
}

func deletionParams(rec *tracker.DeletionRecord) (sqlc.InsertDeletionParams, error) {
	origin, err := json.Marshal(rec.Origin)
	if err != nil {
		return sqlc.InsertDeletionParams{}, fmt.Errorf("encoding origin fingerprint: %w", err)
	}
	atts, err := encodeJSON(rec.RecoveredAttachments, "[]")
	if err != nil {
		return sqlc.InsertDeletionParams{}, fmt.Errorf("encoding recovered attachments: %w", err)
	}
	meta, err := encodeJSON(rec.Metadata, "{}")
	if err != nil {
		return sqlc.InsertDeletionParams{}, fmt.Errorf("encoding metadata: %w", err)
	}
	return sqlc.InsertDeletionParams{
		ItemID:               rec.ItemID,
		OriginFingerprint:    string(origin),
		DeletionTimestamp:    rec.DeletedAt.UnixNano(),
		Classification:       string(rec.Classification),
		RecoveredContent:     nullString(rec.RecoveredContent),
		RecoveredAttachments: atts,
		Metadata:             meta,
		CreatedAt:            time.Now().UnixNano(),
	}, nil
}

func deletionFromRow(row sqlc.Deletion) (*tracker.DeletionRecord, error) {
	rec := &tracker.DeletionRecord{
		JournalID:        row.JournalID,
		ItemID:           row.ItemID,
		DeletedAt:        fromUnixNano(row.DeletionTimestamp),
		Classification:   tracker.Classification(row.Classification),
		RecoveredContent: stringPtr(row.RecoveredContent),
	}
	if err := json.Unmarshal([]byte(row.OriginFingerprint), &rec.Origin); err != nil {
		return nil, fmt.Errorf("decoding origin of journal entry %d: %w", row.JournalID, err)
	}
	if err := decodeJSON(row.RecoveredAttachments, &rec.RecoveredAttachments); err != nil {
		return nil, fmt.Errorf("decoding attachments of journal entry %d: %w", row.JournalID, err)
	}
	if err := decodeJSON(row.Metadata, &rec.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata of journal entry %d: %w", row.JournalID, err)
	}
	if len(rec.RecoveredAttachments) == 0 {
		rec.RecoveredAttachments = nil
	}
	if len(rec.Metadata) == 0 {
		rec.Metadata = nil
	}
	return rec, nil
}

func encodeJSON[T any](v T, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if s := string(b); s != "null" {
		return s, nil
	}
	return empty, nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// lowerBound maps a zero time to the smallest timestamp so it means "no bound".
func lowerBound(t time.Time) int64 {
	if t.IsZero() {
		return math.MinInt64
	}
	return t.UnixNano()
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(limit)
}
