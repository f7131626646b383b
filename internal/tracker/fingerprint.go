package tracker

import (
	"slices"
	"time"
)

// Classification tags a detected deletion.
type Classification string

const (
	FullMessage    Classification = "full_message"
	AttachmentOnly Classification = "attachment_only"
	PartialEdit    Classification = "partial_edit"
)

// AllClassifications lists every classification in priority order.
var AllClassifications = []Classification{FullMessage, AttachmentOnly, PartialEdit}

// ParseClassification returns the Classification named by s.
func ParseClassification(s string) (Classification, bool) {
	for _, c := range AllClassifications {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Attachment is the metadata identity of one attachment on an item.
// Hash covers filename, size and modification time only, never file bytes.
type Attachment struct {
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Hash       string    `json:"hash"`
}

// Fingerprint is the last-known summary of a tracked item.
// ConversationID and SenderIdentity are empty when unknown.
type Fingerprint struct {
	ItemID           int64        `json:"item_id"`
	ContentHash      string       `json:"content_hash"`
	AttachmentHashes []string     `json:"attachment_hashes"`
	Timestamp        time.Time    `json:"timestamp"`
	ConversationID   string       `json:"conversation_id,omitempty"`
	SenderIdentity   string       `json:"sender_identity,omitempty"`
	Content          *string      `json:"content,omitempty"`
	Attachments      []Attachment `json:"attachments,omitempty"`

	// Removed marks a tombstone: the item vanished and that was already reported.
	Removed bool `json:"removed,omitempty"`
}

// NewFingerprint builds a fingerprint from an item's text and attachments.
// Attachment hashes are deduplicated and sorted so the set compares by value.
func NewFingerprint(itemID int64, content *string, attachments []Attachment, ts time.Time) *Fingerprint {
	text := ""
	if content != nil {
		text = *content
	}

	var atts []Attachment
	var hashes []string
	for _, a := range attachments {
		a.ModifiedAt = a.ModifiedAt.UTC()
		if a.Hash == "" {
			a.Hash = HashAttachment(a.Filename, a.Size, a.ModifiedAt)
		}
		atts = append(atts, a)
		hashes = append(hashes, a.Hash)
	}
	slices.Sort(hashes)
	hashes = slices.Compact(hashes)

	return &Fingerprint{
		ItemID:           itemID,
		ContentHash:      HashContent(text),
		AttachmentHashes: hashes,
		Timestamp:        ts.UTC(),
		Content:          content,
		Attachments:      atts,
	}
}

// HasAttachment reports whether hash is in the fingerprint's attachment set.
func (f *Fingerprint) HasAttachment(hash string) bool {
	_, found := slices.BinarySearch(f.AttachmentHashes, hash)
	return found
}

// IsEmpty reports whether the fingerprint carries neither text nor attachments.
func (f *Fingerprint) IsEmpty() bool {
	return f.ContentHash == emptyContentHash && len(f.AttachmentHashes) == 0
}

// attachmentName returns a human-readable name for an attachment hash.
func (f *Fingerprint) attachmentName(hash string) string {
	for _, a := range f.Attachments {
		if a.Hash == hash && a.Filename != "" {
			return a.Filename
		}
	}
	return hash
}

// Tombstone returns a copy of f marked as removed at ts.
func (f *Fingerprint) Tombstone(ts time.Time) *Fingerprint {
	t := *f
	t.AttachmentHashes = slices.Clone(f.AttachmentHashes)
	t.Attachments = slices.Clone(f.Attachments)
	t.Timestamp = ts.UTC()
	t.Removed = true
	return &t
}

// DeletionRecord is an immutable journal entry for one detected removal or edit.
type DeletionRecord struct {
	JournalID            int64             `json:"journal_id"`
	ItemID               int64             `json:"item_id"`
	Origin               Fingerprint       `json:"origin_fingerprint"`
	DeletedAt            time.Time         `json:"deletion_timestamp"`
	Classification       Classification    `json:"classification"`
	RecoveredContent     *string           `json:"recovered_content,omitempty"`
	RecoveredAttachments []string          `json:"recovered_attachments"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// Row is one item as read from the monitored message store.
// SenderIdentity and ConversationID are empty when the store has none.
type Row struct {
	ID             int64
	GUID           string
	SenderIdentity string
	ConversationID string
	RawContent     *string
	Date           time.Time
	EditedAt       *time.Time
	RetractedAt    *time.Time
	IsFromMe       bool
	HasAttachments bool
	Attachments    []Attachment
}

// ChangedAt returns the latest of the row's date, edit and retraction times.
func (r Row) ChangedAt() time.Time {
	t := r.Date
	if r.EditedAt != nil && r.EditedAt.After(t) {
		t = *r.EditedAt
	}
	if r.RetractedAt != nil && r.RetractedAt.After(t) {
		t = *r.RetractedAt
	}
	return t
}

// Retracted reports whether the sender unsent the item.
func (r Row) Retracted() bool {
	return r.RetractedAt != nil
}

// Stats is a snapshot of tracker progress for diagnostics and run records.
type Stats struct {
	State             State     `json:"state"`
	StartedAt         time.Time `json:"started_at"`
	Ticks             int64     `json:"ticks"`
	EventsProcessed   int64     `json:"events_processed"`
	DeletionsDetected int64     `json:"deletions_detected"`
	ObserverErrors    int64     `json:"observer_errors"`
	LastEventAt       time.Time `json:"last_event_at,omitempty"`
	ActiveSinks       []string  `json:"active_sinks"`
}
