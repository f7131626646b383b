package sink

import (
	"time"

	"imessage-undeleter/internal/tracker"
)

var detectedAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func testRecord(journalID int64, text string) *tracker.DeletionRecord {
	photo := tracker.Attachment{Filename: "IMG_0042.HEIC", Size: 2048, ModifiedAt: detectedAt.Add(-time.Hour)}
	origin := tracker.NewFingerprint(7, &text, []tracker.Attachment{photo}, detectedAt.Add(-time.Minute))
	origin.SenderIdentity = "+15551234567"
	origin.ConversationID = "chat100"
	return &tracker.DeletionRecord{
		JournalID:            journalID,
		ItemID:               7,
		Origin:               *origin,
		DeletedAt:            detectedAt,
		Classification:       tracker.FullMessage,
		RecoveredContent:     &text,
		RecoveredAttachments: origin.AttachmentHashes,
		Metadata:             map[string]string{"reason": "vanished"},
	}
}
