package tracker_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"imessage-undeleter/internal/testutil"
	"imessage-undeleter/internal/tracker"
)

// stubClassifier returns a canned result and counts its calls.
type stubClassifier struct {
	name     string
	supports []tracker.Classification
	result   *tracker.Detection
	err      error
	panics   bool
	calls    int
}

func (s *stubClassifier) Name() string                       { return s.name }
func (s *stubClassifier) Supports() []tracker.Classification { return s.supports }

func (s *stubClassifier) Classify(int64, *tracker.Fingerprint, *tracker.Fingerprint) (*tracker.Detection, error) {
	s.calls++
	if s.panics {
		panic("boom")
	}
	return s.result, s.err
}

type engineFixture struct {
	engine  *tracker.ClassifierEngine
	store   tracker.FingerprintStore
	reader  *testutil.FakeReader
	clock   *testutil.StubClock
	metrics *testutil.CountingMetrics
}

func newEngineFixture(t *testing.T, classifiers []tracker.Classifier, allowed ...tracker.Classification) *engineFixture {
	t.Helper()
	if len(allowed) == 0 {
		allowed = tracker.AllClassifications
	}
	f := &engineFixture{
		store:   testutil.NewTestStore(t),
		reader:  testutil.NewFakeReader(),
		clock:   testutil.FixedClock(),
		metrics: testutil.NewCountingMetrics(),
	}
	f.engine = tracker.NewClassifierEngine(f.store, f.reader, classifiers, allowed, f.clock, tracker.NewNopLogger(), f.metrics)
	return f
}

func defaultEngineFixture(t *testing.T, opts tracker.ClassifierOptions) *engineFixture {
	return newEngineFixture(t, tracker.DefaultClassifiers(opts))
}

func (f *engineFixture) seed(t *testing.T, fps ...*tracker.Fingerprint) {
	t.Helper()
	if err := f.store.BatchPutFingerprints(context.Background(), fps); err != nil {
		t.Fatalf("seeding fingerprints: %v", err)
	}
}

func (f *engineFixture) baseline(t *testing.T, id int64) *tracker.Fingerprint {
	t.Helper()
	got, err := f.store.GetFingerprint(context.Background(), id)
	if err != nil {
		t.Fatalf("GetFingerprint(%d) error = %v", id, err)
	}
	return got
}

func TestClassifierEngine_ActiveFollowsAllowList(t *testing.T) {
	tests := []struct {
		name    string
		allowed []tracker.Classification
		want    []string
	}{
		{name: "all", allowed: tracker.AllClassifications, want: []string{"full_message", "attachment_only", "partial_edit"}},
		{name: "attachment only", allowed: []tracker.Classification{tracker.AttachmentOnly}, want: []string{"attachment_only"}},
		{name: "defaults", allowed: []tracker.Classification{tracker.FullMessage, tracker.AttachmentOnly}, want: []string{"full_message", "attachment_only"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t, tracker.DefaultClassifiers(tracker.ClassifierOptions{TrackEdits: true}), tt.allowed...)
			if got := f.engine.Active(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Active() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifierEngine_VanishedItemFiresFullMessageOnce(t *testing.T) {
	ctx := context.Background()
	f := defaultEngineFixture(t, tracker.ClassifierOptions{})
	f.seed(t, fp(7, "hello", "x", "y"))

	recs, err := f.engine.Process(ctx, []int64{7})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Process() returned %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Classification != tracker.FullMessage {
		t.Errorf("Classification = %s, want full_message", rec.Classification)
	}
	if rec.ItemID != 7 || rec.Origin.ItemID != 7 || rec.Origin.ContentHash != tracker.HashContent("hello") {
		t.Errorf("record = %+v", rec)
	}
	if !rec.DeletedAt.Equal(f.clock.Now()) {
		t.Errorf("DeletedAt = %v, want %v", rec.DeletedAt, f.clock.Now())
	}
	if rec.JournalID == 0 {
		t.Error("JournalID not assigned by the commit")
	}

	tomb := f.baseline(t, 7)
	if tomb == nil || !tomb.Removed {
		t.Fatalf("baseline after vanish = %+v, want tombstone", tomb)
	}

	f.clock.Advance(time.Second)
	again, err := f.engine.Process(ctx, []int64{7})
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second Process() returned %d records, want 0", len(again))
	}
}

func TestClassifierEngine_AttachmentRemoved(t *testing.T) {
	f := defaultEngineFixture(t, tracker.ClassifierOptions{})
	f.seed(t, fp(3, "A", "x", "y"))
	f.reader.Upsert(row(3, "A", t0, "x"))

	recs, err := f.engine.Process(context.Background(), []int64{3})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Classification != tracker.AttachmentOnly {
		t.Fatalf("Process() = %+v, want one attachment_only record", recs)
	}
	if want := []string{attHash("y")}; !reflect.DeepEqual(recs[0].RecoveredAttachments, want) {
		t.Errorf("RecoveredAttachments = %v, want %v", recs[0].RecoveredAttachments, want)
	}
	if got := f.baseline(t, 3); len(got.AttachmentHashes) != 1 {
		t.Errorf("baseline attachments = %v, want only x", got.AttachmentHashes)
	}
}

func TestClassifierEngine_EditTrackingDisabled(t *testing.T) {
	f := defaultEngineFixture(t, tracker.ClassifierOptions{TrackEdits: false})
	f.seed(t, fp(4, "A"))
	f.reader.Upsert(row(4, "B", t0))

	recs, err := f.engine.Process(context.Background(), []int64{4})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("Process() = %+v, want no records", recs)
	}
	if got := f.baseline(t, 4); got.ContentHash != tracker.HashContent("B") {
		t.Errorf("baseline not replaced: %s", got.ContentHash)
	}
}

func TestClassifierEngine_EditTrackingEnabled(t *testing.T) {
	f := defaultEngineFixture(t, tracker.ClassifierOptions{TrackEdits: true, RecoverEditContent: true})
	f.seed(t, fp(4, "meet at 5, bring cash"))
	f.reader.Upsert(row(4, "meet at 5", t0))

	recs, err := f.engine.Process(context.Background(), []int64{4})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Classification != tracker.PartialEdit {
		t.Fatalf("Process() = %+v, want one partial_edit record", recs)
	}
	if recs[0].Metadata["removed_text"] != ", bring cash" {
		t.Errorf("removed_text = %q", recs[0].Metadata["removed_text"])
	}
}

func TestClassifierEngine_NewItemSeedsBaseline(t *testing.T) {
	f := defaultEngineFixture(t, tracker.ClassifierOptions{})
	f.reader.Upsert(row(11, "first sight", t0, "x"))

	recs, err := f.engine.Process(context.Background(), []int64{11, 11})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Process() = %+v, want no records for a new item", recs)
	}

	got := f.baseline(t, 11)
	if got == nil {
		t.Fatal("baseline not stored")
	}
	if got.Content == nil || *got.Content != "first sight" {
		t.Errorf("baseline content = %v", got.Content)
	}
	if !got.Timestamp.Equal(f.clock.Now()) {
		t.Errorf("baseline timestamp = %v, want clock time %v", got.Timestamp, f.clock.Now())
	}
}

func TestClassifierEngine_UnknownVanishedItem(t *testing.T) {
	f := defaultEngineFixture(t, tracker.ClassifierOptions{})

	recs, err := f.engine.Process(context.Background(), []int64{99})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Process() = %+v, want none", recs)
	}
	if got := f.baseline(t, 99); got != nil {
		t.Errorf("baseline = %+v, want none", got)
	}
}

func TestClassifierEngine_FirstMatchWins(t *testing.T) {
	first := &stubClassifier{name: "first", supports: []tracker.Classification{tracker.FullMessage}, result: &tracker.Detection{Classification: tracker.FullMessage}}
	second := &stubClassifier{name: "second", supports: []tracker.Classification{tracker.AttachmentOnly}, result: &tracker.Detection{Classification: tracker.AttachmentOnly}}
	f := newEngineFixture(t, []tracker.Classifier{first, second})
	f.seed(t, fp(1, "A"))

	recs, err := f.engine.Process(context.Background(), []int64{1})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Classification != tracker.FullMessage {
		t.Fatalf("Process() = %+v", recs)
	}
	if second.calls != 0 {
		t.Errorf("second classifier ran %d times after a match", second.calls)
	}
}

func TestClassifierEngine_FailingClassifierIsSkipped(t *testing.T) {
	tests := []struct {
		name   string
		broken *stubClassifier
	}{
		{name: "error", broken: &stubClassifier{name: "broken", supports: []tracker.Classification{tracker.FullMessage}, err: errors.New("bad input")}},
		{name: "panic", broken: &stubClassifier{name: "broken", supports: []tracker.Classification{tracker.FullMessage}, panics: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &stubClassifier{name: "next", supports: []tracker.Classification{tracker.AttachmentOnly}, result: &tracker.Detection{Classification: tracker.AttachmentOnly}}
			f := newEngineFixture(t, []tracker.Classifier{tt.broken, next})
			f.seed(t, fp(1, "A"))

			recs, err := f.engine.Process(context.Background(), []int64{1})
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if len(recs) != 1 || recs[0].Classification != tracker.AttachmentOnly {
				t.Fatalf("Process() = %+v, want the next classifier's result", recs)
			}
			if f.metrics.ClassifierErrors["broken"] != 1 {
				t.Errorf("ClassifierErrors = %v", f.metrics.ClassifierErrors)
			}
		})
	}
}

func TestClassifierEngine_DisallowedDetectionIgnored(t *testing.T) {
	multi := &stubClassifier{
		name:     "multi",
		supports: []tracker.Classification{tracker.FullMessage, tracker.PartialEdit},
		result:   &tracker.Detection{Classification: tracker.PartialEdit},
	}
	f := newEngineFixture(t, []tracker.Classifier{multi}, tracker.FullMessage)
	f.seed(t, fp(1, "A"))

	recs, err := f.engine.Process(context.Background(), []int64{1})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Process() = %+v, want detection outside the allow-list dropped", recs)
	}
}

func TestClassifierEngine_SourceError(t *testing.T) {
	f := defaultEngineFixture(t, tracker.ClassifierOptions{})
	f.seed(t, fp(1, "A"))
	f.reader.FailQueries(testutil.ErrFake)

	if _, err := f.engine.Process(context.Background(), []int64{1}); !errors.Is(err, testutil.ErrFake) {
		t.Fatalf("Process() error = %v, want ErrFake", err)
	}
	if got := f.baseline(t, 1); got == nil || got.Removed {
		t.Errorf("baseline changed after a failed resolve: %+v", got)
	}
}

func TestClassifierEngine_ClassifyWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := defaultEngineFixture(t, tracker.ClassifierOptions{})
	f.seed(t, fp(7, "hello"))
	f.reader.Upsert(row(8, "new", t0))

	set, err := f.engine.Classify(ctx, []int64{7, 8})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if len(set.Records) != 1 || set.Records[0].ItemID != 7 {
		t.Fatalf("Records = %+v, want one for item 7", set.Records)
	}
	if len(set.Baselines) != 2 || !set.Baselines[0].Removed || set.Baselines[1].ItemID != 8 {
		t.Errorf("Baselines = %+v, want tombstone 7 and live 8", set.Baselines)
	}
	if got := f.baseline(t, 7); got.Removed {
		t.Error("Classify() stored a tombstone")
	}
	if got := f.baseline(t, 8); got != nil {
		t.Errorf("Classify() stored baseline %+v", got)
	}
}

func TestClassifierEngine_CommitFailureKeepsBaselines(t *testing.T) {
	ctx := context.Background()
	f := defaultEngineFixture(t, tracker.ClassifierOptions{})
	f.seed(t, fp(7, "hello"), fp(8, "world"))
	journal := &failingJournal{FingerprintStore: f.store, fail: true}
	engine := tracker.NewClassifierEngine(journal, f.reader, tracker.DefaultClassifiers(tracker.ClassifierOptions{}),
		tracker.AllClassifications, f.clock, tracker.NewNopLogger(), f.metrics)

	if _, err := engine.Process(ctx, []int64{7, 8}); !errors.Is(err, testutil.ErrFake) {
		t.Fatalf("Process() error = %v, want ErrFake", err)
	}
	for _, id := range []int64{7, 8} {
		if got := f.baseline(t, id); got == nil || got.Removed {
			t.Errorf("baseline %d after failed commit = %+v, want live", id, got)
		}
	}

	journal.fail = false
	recs, err := engine.Process(ctx, []int64{7, 8})
	if err != nil {
		t.Fatalf("Process() retry error = %v", err)
	}
	if len(recs) != 2 || recs[0].JournalID == 0 || recs[1].JournalID <= recs[0].JournalID {
		t.Errorf("retry records = %+v, want two journaled records", recs)
	}
}
