package tracker_test

import (
	"time"

	"imessage-undeleter/internal/tracker"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func att(name string) tracker.Attachment {
	return tracker.Attachment{Filename: name, Size: 1024, ModifiedAt: t0}
}

func attHash(name string) string {
	return tracker.HashAttachment(name, 1024, t0)
}

// fp builds a fingerprint with the given text and named attachments.
func fp(id int64, text string, attachments ...string) *tracker.Fingerprint {
	var atts []tracker.Attachment
	for _, a := range attachments {
		atts = append(atts, att(a))
	}
	return tracker.NewFingerprint(id, strPtr(text), atts, t0)
}

// row builds a message row dated at.
func row(id int64, text string, at time.Time, attachments ...string) tracker.Row {
	r := tracker.Row{
		ID:             id,
		GUID:           "guid-" + text,
		SenderIdentity: "+15551234567",
		ConversationID: "chat100",
		RawContent:     strPtr(text),
		Date:           at,
	}
	for _, a := range attachments {
		r.Attachments = append(r.Attachments, att(a))
	}
	r.HasAttachments = len(r.Attachments) > 0
	return r
}
