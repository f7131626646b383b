package chatdb

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"imessage-undeleter/internal/tracker"
)

// the subset of the Messages schema the reader touches
const fixtureSchema = `
CREATE TABLE handle (ROWID INTEGER PRIMARY KEY AUTOINCREMENT, id TEXT NOT NULL, service TEXT);
CREATE TABLE chat (ROWID INTEGER PRIMARY KEY AUTOINCREMENT, chat_identifier TEXT);
CREATE TABLE message (
    ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
    guid TEXT NOT NULL,
    text TEXT,
    handle_id INTEGER DEFAULT 0,
    date INTEGER,
    date_edited INTEGER DEFAULT 0,
    date_retracted INTEGER DEFAULT 0,
    is_from_me INTEGER DEFAULT 0,
    cache_has_attachments INTEGER DEFAULT 0
);
CREATE TABLE chat_message_join (chat_id INTEGER, message_id INTEGER, PRIMARY KEY (chat_id, message_id));
CREATE TABLE attachment (
    ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
    filename TEXT,
    transfer_name TEXT,
    total_bytes INTEGER DEFAULT 0,
    created_date INTEGER DEFAULT 0
);
CREATE TABLE message_attachment_join (message_id INTEGER, attachment_id INTEGER);

INSERT INTO handle (ROWID, id, service) VALUES (1, '+15551234567', 'iMessage'), (2, 'alice@example.com', 'iMessage');
INSERT INTO chat (ROWID, chat_identifier) VALUES (1, 'chat100'), (2, 'chat200');
`

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fixtureAttachment struct {
	filename     string
	transferName string
	size         int64
	created      time.Time
}

type fixtureMessage struct {
	id        int64
	text      *string
	handle    int64
	chat      int64
	date      time.Time
	seconds   bool // store date in the legacy seconds format
	edited    time.Time
	retracted time.Time
	fromMe    bool

	attachments []fixtureAttachment
}

// fixture is a writable chat.db in WAL mode. The writer stays open for the
// test so the -wal file exists.
type fixture struct {
	path string
	db   *sql.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(fixtureSchema); err != nil {
		t.Fatalf("creating fixture schema: %v", err)
	}
	return &fixture{path: path, db: db}
}

func (f *fixture) open(t *testing.T) *Reader {
	t.Helper()
	r, err := Open(context.Background(), f.path, tracker.NewNopLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func (f *fixture) exec(t *testing.T, query string, args ...any) {
	t.Helper()
	if _, err := f.db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func (f *fixture) add(t *testing.T, m fixtureMessage) {
	t.Helper()
	date := toAppleNanos(m.date)
	if m.seconds {
		date = m.date.Unix() - appleEpoch
	}
	fromMe := 0
	if m.fromMe {
		fromMe = 1
	}
	hasAtt := 0
	if len(m.attachments) > 0 {
		hasAtt = 1
	}

	f.exec(t, `INSERT INTO message (ROWID, guid, text, handle_id, date, date_edited, date_retracted, is_from_me, cache_has_attachments)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.id, fmt.Sprintf("guid-%d", m.id), m.text, m.handle, date,
		toAppleNanos(m.edited), toAppleNanos(m.retracted), fromMe, hasAtt)

	if m.chat != 0 {
		f.exec(t, "INSERT INTO chat_message_join (chat_id, message_id) VALUES (?, ?)", m.chat, m.id)
	}
	for _, a := range m.attachments {
		var filename, transfer any
		if a.filename != "" {
			filename = a.filename
		}
		if a.transferName != "" {
			transfer = a.transferName
		}
		res, err := f.db.Exec("INSERT INTO attachment (filename, transfer_name, total_bytes, created_date) VALUES (?, ?, ?, ?)",
			filename, transfer, a.size, a.created.Unix()-appleEpoch)
		if err != nil {
			t.Fatal(err)
		}
		attID, _ := res.LastInsertId()
		f.exec(t, "INSERT INTO message_attachment_join (message_id, attachment_id) VALUES (?, ?)", m.id, attID)
	}
}

func text(s string) *string { return &s }
