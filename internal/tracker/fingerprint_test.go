package tracker_test

import (
	"reflect"
	"slices"
	"testing"
	"time"

	"imessage-undeleter/internal/tracker"
)

func TestNewFingerprint(t *testing.T) {
	f := tracker.NewFingerprint(3, strPtr("hi"), []tracker.Attachment{att("b.jpg"), att("a.jpg"), att("b.jpg")}, t0)

	if f.ItemID != 3 {
		t.Errorf("ItemID = %d, want 3", f.ItemID)
	}
	if f.ContentHash != tracker.HashContent("hi") {
		t.Errorf("ContentHash = %s", f.ContentHash)
	}
	if len(f.AttachmentHashes) != 2 {
		t.Fatalf("AttachmentHashes = %v, want 2 unique hashes", f.AttachmentHashes)
	}
	if !slices.IsSorted(f.AttachmentHashes) {
		t.Errorf("AttachmentHashes not sorted: %v", f.AttachmentHashes)
	}
	if !f.HasAttachment(attHash("a.jpg")) || !f.HasAttachment(attHash("b.jpg")) {
		t.Error("HasAttachment() = false for a stored attachment")
	}
	if f.HasAttachment(attHash("c.jpg")) {
		t.Error("HasAttachment(c.jpg) = true")
	}
}

func TestNewFingerprint_Empty(t *testing.T) {
	f := tracker.NewFingerprint(1, nil, nil, t0)

	if !f.IsEmpty() {
		t.Error("IsEmpty() = false for nil content and no attachments")
	}
	if f.AttachmentHashes != nil || f.Attachments != nil {
		t.Errorf("empty fingerprint has non-nil slices: %#v %#v", f.AttachmentHashes, f.Attachments)
	}
	if fp(1, "x").IsEmpty() {
		t.Error("IsEmpty() = true for non-empty text")
	}
	if tracker.NewFingerprint(1, nil, []tracker.Attachment{att("a")}, t0).IsEmpty() {
		t.Error("IsEmpty() = true with an attachment")
	}
}

func TestNewFingerprint_UTCTimestamps(t *testing.T) {
	local := time.FixedZone("PST", -8*3600)
	a := tracker.Attachment{Filename: "x", Size: 1, ModifiedAt: t0.In(local)}
	f := tracker.NewFingerprint(1, nil, []tracker.Attachment{a}, t0.In(local))

	if f.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp location = %v, want UTC", f.Timestamp.Location())
	}
	if f.Attachments[0].ModifiedAt.Location() != time.UTC {
		t.Errorf("attachment ModifiedAt location = %v, want UTC", f.Attachments[0].ModifiedAt.Location())
	}
}

func TestFingerprint_Tombstone(t *testing.T) {
	orig := fp(9, "bye", "a.jpg")
	later := t0.Add(time.Hour)

	tomb := orig.Tombstone(later)

	if !tomb.Removed || orig.Removed {
		t.Errorf("Removed: tomb=%v orig=%v", tomb.Removed, orig.Removed)
	}
	if !tomb.Timestamp.Equal(later) {
		t.Errorf("Timestamp = %v, want %v", tomb.Timestamp, later)
	}
	if !reflect.DeepEqual(tomb.AttachmentHashes, orig.AttachmentHashes) {
		t.Errorf("AttachmentHashes = %v, want %v", tomb.AttachmentHashes, orig.AttachmentHashes)
	}
	tomb.AttachmentHashes[0] = "mutated"
	if orig.AttachmentHashes[0] == "mutated" {
		t.Error("Tombstone shares the attachment slice with the original")
	}
}

func TestRow_ChangedAt(t *testing.T) {
	edited := t0.Add(time.Minute)
	retracted := t0.Add(2 * time.Minute)

	tests := []struct {
		name string
		row  tracker.Row
		want time.Time
	}{
		{name: "date only", row: tracker.Row{Date: t0}, want: t0},
		{name: "edited", row: tracker.Row{Date: t0, EditedAt: &edited}, want: edited},
		{name: "retracted after edit", row: tracker.Row{Date: t0, EditedAt: &edited, RetractedAt: &retracted}, want: retracted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.row.ChangedAt(); !got.Equal(tt.want) {
				t.Errorf("ChangedAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFingerprintFromRow(t *testing.T) {
	r := row(5, "hey", t0, "pic.png")
	f := tracker.FingerprintFromRow(r, t0)
	if f == nil {
		t.Fatal("FingerprintFromRow() = nil for a live row")
	}
	if f.ConversationID != "chat100" || f.SenderIdentity != "+15551234567" {
		t.Errorf("identity = %q/%q", f.ConversationID, f.SenderIdentity)
	}
	if !f.HasAttachment(attHash("pic.png")) {
		t.Error("attachment hash missing")
	}

	retracted := t0.Add(time.Minute)
	r.RetractedAt = &retracted
	if got := tracker.FingerprintFromRow(r, t0); got != nil {
		t.Errorf("FingerprintFromRow(unsent) = %+v, want nil", got)
	}
}

func TestParseClassification(t *testing.T) {
	for _, c := range tracker.AllClassifications {
		got, ok := tracker.ParseClassification(string(c))
		if !ok || got != c {
			t.Errorf("ParseClassification(%q) = %q, %v", c, got, ok)
		}
	}
	if _, ok := tracker.ParseClassification("emoji_only"); ok {
		t.Error("ParseClassification(emoji_only) ok = true")
	}
}
