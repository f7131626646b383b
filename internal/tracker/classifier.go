package tracker

import (
	"slices"
	"strconv"
	"strings"
)

// Detection is a classifier's verdict on one fingerprint transition.
type Detection struct {
	Classification       Classification
	RecoveredContent     *string
	RecoveredAttachments []string
	Metadata             map[string]string
}

// Classifier maps a fingerprint transition to an optional detection.
// Implementations hold no per-item state. prev or curr may be nil.
type Classifier interface {
	Name() string
	Supports() []Classification
	Classify(itemID int64, prev, curr *Fingerprint) (*Detection, error)
}

// ClassifierOptions configures the built-in classifiers.
type ClassifierOptions struct {
	// TreatClearedAsDeleted reports an item whose text and attachments were
	// both emptied as a full-message deletion.
	TreatClearedAsDeleted bool

	// TrackEdits enables the partial-edit classifier.
	TrackEdits bool

	// RecoverEditContent attaches the previous text and the removed span to
	// partial-edit detections.
	RecoverEditContent bool
}

// DefaultClassifiers returns the built-in classifiers in priority order.
func DefaultClassifiers(opts ClassifierOptions) []Classifier {
	return []Classifier{
		&FullMessageClassifier{TreatClearedAsDeleted: opts.TreatClearedAsDeleted},
		&AttachmentOnlyClassifier{},
		&PartialEditClassifier{Enabled: opts.TrackEdits, RecoverContent: opts.RecoverEditContent},
	}
}

// live reports whether prev is a baseline that can still produce a detection.
func live(prev *Fingerprint) bool {
	return prev != nil && !prev.Removed
}

// FullMessageClassifier fires when a tracked item vanished, or when its text
// and attachments were cleared and TreatClearedAsDeleted is set.
type FullMessageClassifier struct {
	TreatClearedAsDeleted bool
}

func (c *FullMessageClassifier) Name() string { return "full_message" }

func (c *FullMessageClassifier) Supports() []Classification {
	return []Classification{FullMessage}
}

func (c *FullMessageClassifier) Classify(itemID int64, prev, curr *Fingerprint) (*Detection, error) {
	if !live(prev) {
		return nil, nil
	}

	var reason string
	switch {
	case curr == nil:
		reason = "vanished"
	case c.TreatClearedAsDeleted && curr.IsEmpty() && !prev.IsEmpty():
		reason = "cleared"
	default:
		return nil, nil
	}

	meta := map[string]string{
		"reason":           reason,
		"attachment_count": strconv.Itoa(len(prev.AttachmentHashes)),
	}
	if len(prev.AttachmentHashes) > 0 {
		names := make([]string, len(prev.AttachmentHashes))
		for i, h := range prev.AttachmentHashes {
			names[i] = prev.attachmentName(h)
		}
		meta["attachment_names"] = strings.Join(names, ",")
	}

	return &Detection{
		Classification:       FullMessage,
		RecoveredContent:     prev.Content,
		RecoveredAttachments: slices.Clone(prev.AttachmentHashes),
		Metadata:             meta,
	}, nil
}

// AttachmentOnlyClassifier fires when the text is unchanged but attachments
// were lost. It reports the lost attachment hashes.
type AttachmentOnlyClassifier struct{}

func (c *AttachmentOnlyClassifier) Name() string { return "attachment_only" }

func (c *AttachmentOnlyClassifier) Supports() []Classification {
	return []Classification{AttachmentOnly}
}

func (c *AttachmentOnlyClassifier) Classify(itemID int64, prev, curr *Fingerprint) (*Detection, error) {
	if !live(prev) || curr == nil || prev.ContentHash != curr.ContentHash {
		return nil, nil
	}

	var lost, names []string
	for _, h := range prev.AttachmentHashes {
		if !curr.HasAttachment(h) {
			lost = append(lost, h)
			names = append(names, prev.attachmentName(h))
		}
	}
	if len(lost) == 0 {
		return nil, nil
	}

	return &Detection{
		Classification:       AttachmentOnly,
		RecoveredAttachments: lost,
		Metadata: map[string]string{
			"attachment_names":      strings.Join(names, ","),
			"remaining_attachments": strconv.Itoa(len(curr.AttachmentHashes)),
		},
	}, nil
}

// PartialEditClassifier fires when an item's text changed while it still
// exists. Without RecoverContent it only reports that the text changed.
type PartialEditClassifier struct {
	Enabled        bool
	RecoverContent bool
}

func (c *PartialEditClassifier) Name() string { return "partial_edit" }

func (c *PartialEditClassifier) Supports() []Classification {
	return []Classification{PartialEdit}
}

func (c *PartialEditClassifier) Classify(itemID int64, prev, curr *Fingerprint) (*Detection, error) {
	if !c.Enabled || !live(prev) || curr == nil || prev.ContentHash == curr.ContentHash {
		return nil, nil
	}

	d := &Detection{
		Classification: PartialEdit,
		Metadata:       map[string]string{"change": "content_changed"},
	}
	if c.RecoverContent && prev.Content != nil {
		d.RecoveredContent = prev.Content
		cur := ""
		if curr.Content != nil {
			cur = *curr.Content
		}
		if removed := removedSpan(*prev.Content, cur); removed != "" {
			d.Metadata["removed_text"] = removed
		}
	}
	return d, nil
}

// removedSpan returns the part of before that is missing from after once the
// common prefix and suffix are stripped.
func removedSpan(before, after string) string {
	b, a := []rune(before), []rune(after)
	p := 0
	for p < len(b) && p < len(a) && b[p] == a[p] {
		p++
	}
	s := 0
	for s < len(b)-p && s < len(a)-p && b[len(b)-1-s] == a[len(a)-1-s] {
		s++
	}
	return string(b[p : len(b)-s])
}
