package chatdb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"imessage-undeleter/internal/tracker"
)

func TestAppleTime(t *testing.T) {
	ns := toAppleNanos(base)
	if got := fromAppleTime(ns); !got.Equal(base) {
		t.Errorf("fromAppleTime(ns) = %v, want %v", got, base)
	}
	if got := fromAppleTime(base.Unix() - appleEpoch); !got.Equal(base) {
		t.Errorf("fromAppleTime(seconds) = %v, want %v", got, base)
	}
	if got := fromAppleTime(0); !got.IsZero() {
		t.Errorf("fromAppleTime(0) = %v, want zero", got)
	}
	if optionalTime(0) != nil {
		t.Error("optionalTime(0) should be nil")
	}
	if toAppleNanos(time.Time{}) != 0 {
		t.Error("toAppleNanos(zero) should be 0")
	}
}

func TestDSN(t *testing.T) {
	want := "file:///Users/me/Library/Messages/chat.db?mode=ro&_query_only=true"
	if got := DSN("/Users/me/Library/Messages/chat.db"); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestOpen_MissingStore(t *testing.T) {
	if _, err := Open(context.Background(), filepath.Join(t.TempDir(), "chat.db"), nil); err == nil {
		t.Error("Open() expected error for missing store")
	}
}

func TestReader_ChangedSince(t *testing.T) {
	f := newFixture(t)
	f.add(t, fixtureMessage{id: 1, text: text("old"), handle: 1, chat: 1, date: base.Add(-10 * time.Minute)})
	f.add(t, fixtureMessage{id: 2, text: text("edited"), handle: 2, chat: 2, date: base.Add(-5 * time.Minute), edited: base.Add(time.Minute)})
	f.add(t, fixtureMessage{id: 3, text: text("recent"), handle: 1, chat: 1, date: base.Add(-2 * time.Minute)})
	f.add(t, fixtureMessage{id: 4, handle: 1, chat: 1, date: base.Add(-20 * time.Minute), seconds: true, retracted: base.Add(2 * time.Minute)})
	r := f.open(t)
	ctx := context.Background()

	rows, err := r.ChangedSince(ctx, tracker.Cursor{At: base.Add(-3 * time.Minute)}, 0)
	if err != nil {
		t.Fatalf("ChangedSince() error = %v", err)
	}
	var ids []int64
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	if want := []int64{3, 2, 4}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}

	recent, edited, unsent := rows[0], rows[1], rows[2]
	if recent.SenderIdentity != "+15551234567" || recent.ConversationID != "chat100" {
		t.Errorf("recent identity = %q in %q", recent.SenderIdentity, recent.ConversationID)
	}
	if *recent.RawContent != "recent" || !recent.Date.Equal(base.Add(-2*time.Minute)) {
		t.Errorf("recent = %+v", recent)
	}
	if edited.EditedAt == nil || !edited.ChangedAt().Equal(base.Add(time.Minute)) {
		t.Errorf("edited ChangedAt = %v", edited.ChangedAt())
	}
	if edited.SenderIdentity != "alice@example.com" || edited.ConversationID != "chat200" {
		t.Errorf("edited identity = %q in %q", edited.SenderIdentity, edited.ConversationID)
	}
	if !unsent.Retracted() || unsent.RawContent != nil {
		t.Errorf("unsent = %+v", unsent)
	}
	if !unsent.Date.Equal(base.Add(-20 * time.Minute)) {
		t.Errorf("seconds date = %v", unsent.Date)
	}

	limited, err := r.ChangedSince(ctx, tracker.Cursor{At: base.Add(-3 * time.Minute)}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[1].ID != 2 {
		t.Errorf("limited = %+v", limited)
	}
}

func TestReader_ChangedSincePagesTies(t *testing.T) {
	f := newFixture(t)
	for id := int64(1); id <= 3; id++ {
		f.add(t, fixtureMessage{id: id, text: text("same second"), handle: 1, chat: 1, date: base, seconds: true})
	}
	r := f.open(t)
	ctx := context.Background()

	after := tracker.Cursor{At: base.Add(-time.Minute)}
	var ids []int64
	for range 3 {
		rows, err := r.ChangedSince(ctx, after, 2)
		if err != nil {
			t.Fatalf("ChangedSince() error = %v", err)
		}
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		if len(rows) > 0 {
			after = tracker.CursorAt(rows[len(rows)-1])
		}
	}
	if want := []int64{1, 2, 3}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ids across pages = %v, want %v", ids, want)
	}
}

func TestReader_ByIDsAndExisting(t *testing.T) {
	f := newFixture(t)
	f.add(t, fixtureMessage{id: 1, text: text("a"), handle: 1, chat: 1, date: base})
	f.add(t, fixtureMessage{id: 2, text: text("b"), handle: 1, chat: 1, date: base, fromMe: true})
	r := f.open(t)
	ctx := context.Background()

	got, err := r.Existing(ctx, []int64{99, 2, 1})
	if err != nil {
		t.Fatalf("Existing() error = %v", err)
	}
	if !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Errorf("Existing() = %v, want [1 2]", got)
	}

	rows, err := r.ByIDs(ctx, []int64{2, 99})
	if err != nil {
		t.Fatalf("ByIDs() error = %v", err)
	}
	if len(rows) != 1 || rows[0].ID != 2 {
		t.Fatalf("ByIDs() = %+v", rows)
	}
	if !rows[0].IsFromMe || rows[0].SenderIdentity != "" {
		t.Errorf("from-me row = %+v", rows[0])
	}

	if rows, err := r.ByIDs(ctx, nil); err != nil || rows != nil {
		t.Errorf("ByIDs(nil) = %v, %v", rows, err)
	}
}

func TestReader_CurrentFingerprints(t *testing.T) {
	f := newFixture(t)
	created := base.Add(-time.Hour)
	f.add(t, fixtureMessage{
		id: 1, text: text("look"), handle: 1, chat: 1, date: base,
		attachments: []fixtureAttachment{
			{filename: "~/Library/Messages/Attachments/ab/IMG_0042.HEIC", size: 2048, created: created},
			{transferName: "voice.caf", size: 512, created: created},
		},
	})
	f.add(t, fixtureMessage{id: 2, text: text("unsent"), handle: 1, chat: 1, date: base, retracted: base.Add(time.Minute)})
	r := f.open(t)

	fps, err := r.CurrentFingerprints(context.Background(), []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("CurrentFingerprints() error = %v", err)
	}
	if len(fps) != 1 {
		t.Fatalf("got %d fingerprints, want only item 1", len(fps))
	}

	fp := fps[1]
	if fp.ContentHash != tracker.HashContent("look") {
		t.Errorf("ContentHash = %s", fp.ContentHash)
	}
	for _, a := range []struct {
		name string
		size int64
	}{{"~/Library/Messages/Attachments/ab/IMG_0042.HEIC", 2048}, {"voice.caf", 512}} {
		if !fp.HasAttachment(tracker.HashAttachment(a.name, a.size, created)) {
			t.Errorf("fingerprint missing attachment %s", a.name)
		}
	}
	if fp.SenderIdentity != "+15551234567" || fp.ConversationID != "chat100" {
		t.Errorf("identity = %q in %q", fp.SenderIdentity, fp.ConversationID)
	}
}

func TestReader_ReloadsHandles(t *testing.T) {
	f := newFixture(t)
	r := f.open(t)

	f.exec(t, "INSERT INTO handle (ROWID, id, service) VALUES (3, 'bob@example.com', 'iMessage')")
	f.add(t, fixtureMessage{id: 1, text: text("hi"), handle: 3, chat: 1, date: base})

	rows, err := r.ByIDs(context.Background(), []int64{1})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].SenderIdentity != "bob@example.com" {
		t.Errorf("rows = %+v", rows)
	}
	if _, ok := r.Handle(3); !ok {
		t.Error("handle cache not refreshed")
	}
}

func TestReader_LogSize(t *testing.T) {
	f := newFixture(t)
	r := f.open(t)

	before, err := r.LogSize()
	if err != nil {
		t.Fatalf("LogSize() error = %v", err)
	}
	f.add(t, fixtureMessage{id: 1, text: text("grow"), handle: 1, chat: 1, date: base})
	after, err := r.LogSize()
	if err != nil {
		t.Fatal(err)
	}
	if after <= before {
		t.Errorf("LogSize() did not grow: %d -> %d", before, after)
	}

	count, err := r.MessageCount(context.Background())
	if err != nil || count != 1 {
		t.Errorf("MessageCount() = %d, %v", count, err)
	}
}

func TestReader_LogSizeFallbacks(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "chat.db")
	if err := os.WriteFile(plain, make([]byte, 4096), 0600); err != nil {
		t.Fatal(err)
	}
	r := &Reader{path: plain}
	if size, err := r.LogSize(); err != nil || size != 4096 {
		t.Errorf("LogSize() without wal = %d, %v; want 4096", size, err)
	}

	gone := &Reader{path: filepath.Join(dir, "gone.db")}
	if _, err := gone.LogSize(); !errors.Is(err, tracker.ErrStoreUnavailable) {
		t.Errorf("LogSize() on missing store = %v, want ErrStoreUnavailable", err)
	}
}
