// Package chatdb reads the Messages app database (chat.db) read-only and
// exposes it as a tracker.MessageStoreReader.
package chatdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"

	"imessage-undeleter/internal/tracker"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// maxQueryVars bounds the ids per IN clause.
const maxQueryVars = 500

// Handle is one row of the handle table: a phone number or email and the
// service it was seen on.
type Handle struct {
	ID         int64
	Identifier string
	Service    string
}

// Reader queries chat.db. The connection is opened read-only and query-only;
// the tracker never writes to the monitored store.
type Reader struct {
	path   string
	db     *sql.DB
	logger tracker.Logger

	mu      sync.Mutex
	handles map[int64]Handle
}

var (
	_ tracker.MessageStoreReader = (*Reader)(nil)
	_ tracker.FingerprintSource  = (*Reader)(nil)
)

// DSN returns the read-only connection string for the database at path.
func DSN(path string) string {
	u := url.URL{Scheme: "file", Path: path, RawQuery: "mode=ro&_query_only=true"}
	return u.String()
}

// Open connects to the store at path and loads the handle table.
func Open(ctx context.Context, path string, logger tracker.Logger) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("message store %s: %w", path, err)
	}

	db, err := sql.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening message store: %w", err)
	}
	r := &Reader{
		path:   path,
		db:     db,
		logger: tracker.WithComponent(logger, "chatdb"),
	}
	if err := r.loadHandles(ctx); err != nil {
		db.Close()
		return nil, err
	}
	r.logger.Info("connected to message store", "path", path, "handles", len(r.handles))
	return r, nil
}

func (r *Reader) Close() error {
	return r.db.Close()
}

// Path returns the database path.
func (r *Reader) Path() string {
	return r.path
}

// LogSize returns the size of the write-ahead log, or of the database file
// when no log exists. A missing database is reported as unavailable.
func (r *Reader) LogSize() (int64, error) {
	for _, p := range []string{r.path + "-wal", r.path} {
		info, err := os.Stat(p)
		if err == nil {
			return info.Size(), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %v", tracker.ErrStoreUnavailable, err)
		}
	}
	return 0, fmt.Errorf("%w: %s not found", tracker.ErrStoreUnavailable, r.path)
}

// MessageCount returns the number of rows in the message table.
func (r *Reader) MessageCount(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM message").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// Handle returns the cached handle for id.
func (r *Reader) Handle(id int64) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

func (r *Reader) loadHandles(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, "SELECT ROWID, id, COALESCE(service, '') FROM handle")
	if err != nil {
		return fmt.Errorf("loading handles: %w", err)
	}
	defer rows.Close()

	handles := make(map[int64]Handle)
	for rows.Next() {
		var h Handle
		if err := rows.Scan(&h.ID, &h.Identifier, &h.Service); err != nil {
			return fmt.Errorf("scanning handle: %w", err)
		}
		handles[h.ID] = h
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("loading handles: %w", err)
	}

	r.mu.Lock()
	r.handles = handles
	r.mu.Unlock()
	return nil
}

// norm scales a timestamp column to nanoseconds, treating NULL as 0.
func norm(col string) string {
	return fmt.Sprintf("(CASE WHEN COALESCE(%[1]s, 0) < %[2]d THEN COALESCE(%[1]s, 0) * 1000000000 ELSE %[1]s END)", col, secondsCutoff)
}

var (
	changedAt = fmt.Sprintf("MAX(%s, %s, %s)", norm("m.date"), norm("m.date_edited"), norm("m.date_retracted"))

	messageColumns = `m.ROWID, m.guid, m.text, m.handle_id, COALESCE(m.date, 0),
       COALESCE(m.date_edited, 0), COALESCE(m.date_retracted, 0),
       COALESCE(m.is_from_me, 0), COALESCE(m.cache_has_attachments, 0),
       COALESCE((SELECT c.chat_identifier FROM chat_message_join cmj
                 JOIN chat c ON c.ROWID = cmj.chat_id
                 WHERE cmj.message_id = m.ROWID
                 ORDER BY cmj.chat_id LIMIT 1), '')`

	changedSinceSQL = fmt.Sprintf(`SELECT %s
FROM message m
WHERE %[2]s > ? OR (%[2]s = ? AND m.ROWID > ?)
ORDER BY %[2]s ASC, m.ROWID ASC
LIMIT ?`, messageColumns, changedAt)
)

// ChangedSince returns rows whose latest date, edit or retraction time sorts
// after the cursor. Rows tied on that time are paged by ROWID.
func (r *Reader) ChangedSince(ctx context.Context, after tracker.Cursor, limit int) ([]tracker.Row, error) {
	if limit <= 0 {
		limit = -1
	}
	at := toAppleNanos(after.At)
	rows, err := r.queryRows(ctx, changedSinceSQL, at, at, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying changed messages: %w", err)
	}
	return rows, nil
}

// ByIDs returns the rows that still exist for ids, in ascending id order.
func (r *Reader) ByIDs(ctx context.Context, ids []int64) ([]tracker.Row, error) {
	var out []tracker.Row
	for _, chunk := range chunks(ids) {
		q := fmt.Sprintf("SELECT %s FROM message m WHERE m.ROWID IN (%s) ORDER BY m.ROWID", messageColumns, placeholders(len(chunk)))
		rows, err := r.queryRows(ctx, q, anyArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("querying messages by id: %w", err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

// Existing returns the subset of ids present in the message table.
func (r *Reader) Existing(ctx context.Context, ids []int64) ([]int64, error) {
	var out []int64
	for _, chunk := range chunks(ids) {
		q := fmt.Sprintf("SELECT ROWID FROM message WHERE ROWID IN (%s)", placeholders(len(chunk)))
		rows, err := r.db.QueryContext(ctx, q, anyArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("checking message ids: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning message id: %w", err)
			}
			out = append(out, id)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("checking message ids: %w", err)
		}
	}
	slices.Sort(out)
	return out, nil
}

// CurrentFingerprints computes the live fingerprint of each id. Missing and
// unsent messages are absent from the result.
func (r *Reader) CurrentFingerprints(ctx context.Context, ids []int64) (map[int64]*tracker.Fingerprint, error) {
	rows, err := r.ByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*tracker.Fingerprint, len(rows))
	for _, row := range rows {
		if fp := tracker.FingerprintFromRow(row, row.ChangedAt()); fp != nil {
			out[row.ID] = fp
		}
	}
	return out, nil
}

func (r *Reader) queryRows(ctx context.Context, query string, args ...any) ([]tracker.Row, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tracker.Row
	var handleIDs []int64
	for rows.Next() {
		var (
			row       tracker.Row
			text      sql.NullString
			handleID  sql.NullInt64
			date      int64
			edited    int64
			retracted int64
			fromMe    int64
			hasAtt    int64
		)
		if err := rows.Scan(&row.ID, &row.GUID, &text, &handleID, &date, &edited, &retracted, &fromMe, &hasAtt, &row.ConversationID); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if text.Valid {
			s := text.String
			row.RawContent = &s
		}
		row.Date = fromAppleTime(date)
		row.EditedAt = optionalTime(edited)
		row.RetractedAt = optionalTime(retracted)
		row.IsFromMe = fromMe != 0
		row.HasAttachments = hasAtt != 0
		out = append(out, row)
		handleIDs = append(handleIDs, handleID.Int64)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	r.resolveSenders(ctx, out, handleIDs)
	if err := r.loadAttachments(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// resolveSenders fills SenderIdentity from the handle cache, reloading it
// once when a row names a handle created after startup.
func (r *Reader) resolveSenders(ctx context.Context, rows []tracker.Row, handleIDs []int64) {
	reloaded := false
	for i := range rows {
		id := handleIDs[i]
		if id == 0 || rows[i].IsFromMe {
			continue
		}
		h, ok := r.Handle(id)
		if !ok && !reloaded {
			reloaded = true
			if err := r.loadHandles(ctx); err != nil {
				r.logger.Warn("reloading handles failed", "error", err)
			}
			h, ok = r.Handle(id)
		}
		if ok {
			rows[i].SenderIdentity = h.Identifier
		}
	}
}

func (r *Reader) loadAttachments(ctx context.Context, rows []tracker.Row) error {
	index := make(map[int64]int)
	var ids []int64
	for i, row := range rows {
		if row.HasAttachments {
			index[row.ID] = i
			ids = append(ids, row.ID)
		}
	}

	for _, chunk := range chunks(ids) {
		q := fmt.Sprintf(`SELECT maj.message_id,
       COALESCE(NULLIF(a.filename, ''), a.transfer_name, ''),
       COALESCE(a.total_bytes, 0),
       COALESCE(a.created_date, 0)
FROM message_attachment_join maj
JOIN attachment a ON a.ROWID = maj.attachment_id
WHERE maj.message_id IN (%s)
ORDER BY maj.message_id, a.ROWID`, placeholders(len(chunk)))

		res, err := r.db.QueryContext(ctx, q, anyArgs(chunk)...)
		if err != nil {
			return fmt.Errorf("querying attachments: %w", err)
		}
		for res.Next() {
			var (
				messageID int64
				att       tracker.Attachment
				created   int64
			)
			if err := res.Scan(&messageID, &att.Filename, &att.Size, &created); err != nil {
				res.Close()
				return fmt.Errorf("scanning attachment: %w", err)
			}
			att.ModifiedAt = fromAppleTime(created)
			i := index[messageID]
			rows[i].Attachments = append(rows[i].Attachments, att)
		}
		err = res.Err()
		res.Close()
		if err != nil {
			return fmt.Errorf("querying attachments: %w", err)
		}
	}
	return nil
}

func chunks(ids []int64) [][]int64 {
	var out [][]int64
	for len(ids) > 0 {
		n := min(len(ids), maxQueryVars)
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anyArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
