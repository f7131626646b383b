package tracker

import (
	"context"
	"time"
)

// FingerprintStore persists the latest fingerprint per item and the
// append-only deletion journal. Implementations must allow read-only
// queries to run concurrently with the single writer loop.
type FingerprintStore interface {
	// GetFingerprint returns the last stored fingerprint for id, or nil if none.
	GetFingerprint(ctx context.Context, id int64) (*Fingerprint, error)

	// PutFingerprint upserts fp keyed by its ItemID. Last write wins.
	PutFingerprint(ctx context.Context, fp *Fingerprint) error

	// BatchPutFingerprints upserts all fingerprints in one transaction.
	// Either every entry lands or none do.
	BatchPutFingerprints(ctx context.Context, fps []*Fingerprint) error

	// AppendDeletion journals rec and returns its assigned journal id.
	// Ids are strictly increasing and never reused.
	AppendDeletion(ctx context.Context, rec *DeletionRecord) (int64, error)

	// CommitChanges journals every record and upserts every baseline in one
	// transaction. On success each record carries its assigned JournalID;
	// on failure nothing is stored and the records are left untouched.
	CommitChanges(ctx context.Context, recs []*DeletionRecord, baselines []*Fingerprint) error

	// QueryDeletions returns journal entries with since <= deletion_timestamp < until,
	// newest first. A zero until means no upper bound. limit <= 0 means no limit.
	QueryDeletions(ctx context.Context, since, until time.Time, limit int) ([]*DeletionRecord, error)

	// PurgeOlderThan deletes fingerprints and journal entries whose timestamp is
	// strictly before cutoff. It returns the number of rows removed from each.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (PurgeResult, error)

	// TrackedItemIDs returns up to limit ids of live (non-tombstoned) fingerprints,
	// most recently observed first.
	TrackedItemIDs(ctx context.Context, limit int) ([]int64, error)
}

// PurgeResult reports how many rows a retention purge removed.
type PurgeResult struct {
	Fingerprints int64
	Deletions    int64
}
