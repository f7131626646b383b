package tracker

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable is returned by a MessageStoreReader when the monitored
// store is transiently absent or unreadable. Observers skip the tick.
var ErrStoreUnavailable = errors.New("message store unavailable")

// MessageStoreReader is the read-only accessor to the monitored message store.
type MessageStoreReader interface {
	// LogSize samples the cheap change signal (mutation-log byte size).
	// It returns ErrStoreUnavailable if the log cannot be stat'ed right now.
	LogSize() (int64, error)

	// ChangedSince returns up to limit rows whose (change time, id) key sorts
	// after the cursor, ordered by that key ascending.
	ChangedSince(ctx context.Context, after Cursor, limit int) ([]Row, error)

	// ByIDs returns the rows that still exist for the given ids.
	ByIDs(ctx context.Context, ids []int64) ([]Row, error)

	// Existing returns the subset of ids still present in the store.
	Existing(ctx context.Context, ids []int64) ([]int64, error)
}

// Cursor is a position in the change-time order of the monitored store. Rows
// sharing a change time are ordered by id, so paging never skips a tie.
type Cursor struct {
	At time.Time
	ID int64
}

// CursorAt returns the cursor positioned on r.
func CursorAt(r Row) Cursor {
	return Cursor{At: r.ChangedAt(), ID: r.ID}
}

// Before reports whether r sorts after the cursor.
func (c Cursor) Before(r Row) bool {
	at := r.ChangedAt()
	return at.After(c.At) || (at.Equal(c.At) && r.ID > c.ID)
}

// FingerprintSource resolves live fingerprints from the monitored store.
// An id absent from the result map has no current fingerprint.
type FingerprintSource interface {
	CurrentFingerprints(ctx context.Context, ids []int64) (map[int64]*Fingerprint, error)
}

// FingerprintFromRow computes the live fingerprint of a row. Unsent rows have
// none and return nil.
func FingerprintFromRow(r Row, observedAt time.Time) *Fingerprint {
	if r.Retracted() {
		return nil
	}
	fp := NewFingerprint(r.ID, r.RawContent, r.Attachments, observedAt)
	fp.ConversationID = r.ConversationID
	fp.SenderIdentity = r.SenderIdentity
	return fp
}
