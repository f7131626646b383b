package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const chatSchema = `
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

INSERT INTO handle (ROWID, id, service) VALUES (1, '+15551234567', 'iMessage');
INSERT INTO chat (ROWID, chat_identifier) VALUES (1, 'chat100');
`

// ChatDB is a writable Messages database in WAL mode. The writer stays
// open until the test ends so the -wal file keeps existing.
type ChatDB struct {
	Path string
	db   *sql.DB
}

// NewChatDB creates chat.db in a temp dir with one handle (+15551234567)
// and one conversation (chat100).
func NewChatDB(t *testing.T) *ChatDB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(chatSchema); err != nil {
		t.Fatalf("creating chat schema: %v", err)
	}
	return &ChatDB{Path: path, db: db}
}

// AddMessage inserts an incoming text message from handle 1 in chat100.
func (c *ChatDB) AddMessage(t *testing.T, id int64, text string, date time.Time) {
	t.Helper()
	appleNanos := (date.Unix()-978307200)*int64(time.Second) + int64(date.Nanosecond())
	if _, err := c.db.Exec(`INSERT INTO message (ROWID, guid, text, handle_id, date) VALUES (?, ?, ?, 1, ?)`,
		id, fmt.Sprintf("guid-%d", id), text, appleNanos); err != nil {
		t.Fatalf("inserting message %d: %v", id, err)
	}
	if _, err := c.db.Exec("INSERT INTO chat_message_join (chat_id, message_id) VALUES (1, ?)", id); err != nil {
		t.Fatalf("joining message %d: %v", id, err)
	}
}

// DeleteMessage removes a message row and its joins in one transaction,
// the way a silent deletion does.
func (c *ChatDB) DeleteMessage(t *testing.T, id int64) {
	t.Helper()
	tx, err := c.db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM chat_message_join WHERE message_id = ?", id); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Exec("DELETE FROM message WHERE ROWID = ?", id); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("deleting message %d: %v", id, err)
	}
}
