// Package sink implements the delivery targets for deletion records.
//
// Every sink follows the tracker.Sink lifecycle: Initialize once, Deliver
// per record, Finalize on drain. None of them retry on their own.
package sink

import (
	"errors"
	"fmt"

	"imessage-undeleter/internal/tracker"
)

var errNotInitialized = errors.New("sink not initialized")

// attachmentNames maps the recovered attachment hashes of rec to filenames
// where the origin fingerprint still knows them.
func attachmentNames(rec *tracker.DeletionRecord) []string {
	names := make([]string, 0, len(rec.RecoveredAttachments))
	for _, h := range rec.RecoveredAttachments {
		name := h
		for _, a := range rec.Origin.Attachments {
			if a.Hash == h && a.Filename != "" {
				name = a.Filename
				break
			}
		}
		names = append(names, name)
	}
	return names
}

func recoveredText(rec *tracker.DeletionRecord) string {
	if rec.RecoveredContent == nil || *rec.RecoveredContent == "" {
		return "[no content]"
	}
	return *rec.RecoveredContent
}

func deliverError(name string, rec *tracker.DeletionRecord, err error) error {
	return fmt.Errorf("%s: delivering journal entry %d: %w", name, rec.JournalID, err)
}
