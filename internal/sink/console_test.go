package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"imessage-undeleter/internal/tracker"
)

func TestConsoleSink_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   []string
	}{
		{
			format: "plain",
			want: []string{
				"iMessage deletion tracker started",
				"DELETION DETECTED: item 7 (full_message)",
				"From: +15551234567 in chat100",
				"Content: hello",
				"Attachments: IMG_0042.HEIC",
				"iMessage deletion tracker stopped",
			},
		},
		{
			format: "colored",
			want: []string{
				"started",
				"DELETION DETECTED (full_message)",
				"Item:",
				"hello",
				"IMG_0042.HEIC",
				"stopped",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			s := NewConsoleSink("console", tt.format, &buf)
			ctx := context.Background()

			if err := s.Initialize(ctx); err != nil {
				t.Fatal(err)
			}
			if err := s.Deliver(ctx, testRecord(1, "hello")); err != nil {
				t.Fatal(err)
			}
			if err := s.Finalize(ctx); err != nil {
				t.Fatal(err)
			}

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestConsoleSink_JSON(t *testing.T) {
	var buf bytes.Buffer
	s := NewConsoleSink("console", "json", &buf)
	ctx := context.Background()

	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver(ctx, testRecord(3, "hello")); err != nil {
		t.Fatal(err)
	}

	var rec tracker.DeletionRecord
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json output does not decode: %v\n%s", err, buf.String())
	}
	if rec.JournalID != 3 {
		t.Errorf("JournalID = %d, want 3", rec.JournalID)
	}
}

func TestConsoleSink_NoContent(t *testing.T) {
	var buf bytes.Buffer
	s := NewConsoleSink("console", "plain", &buf)
	rec := testRecord(1, "")
	rec.RecoveredContent = nil
	rec.RecoveredAttachments = []string{"deadbeef"}

	if err := s.Deliver(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Content: [no content]") {
		t.Errorf("missing placeholder:\n%s", out)
	}
	if !strings.Contains(out, "Attachments: deadbeef") {
		t.Errorf("unknown hash should print as is:\n%s", out)
	}
}
