package tracker

import (
	"context"
	"fmt"
	"slices"
)

// ClassifierEngine compares each changed item's previous and current
// fingerprint through an ordered list of classifiers. The first classifier to
// return a detection wins.
type ClassifierEngine struct {
	store       FingerprintStore
	source      FingerprintSource
	classifiers []Classifier
	allowed     []Classification
	clock       Clock
	logger      Logger
	metrics     Metrics
}

// NewClassifierEngine keeps only the classifiers that support at least one of
// the allowed classifications, preserving their order.
func NewClassifierEngine(store FingerprintStore, source FingerprintSource, classifiers []Classifier, allowed []Classification, clock Clock, logger Logger, metrics Metrics) *ClassifierEngine {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	var active []Classifier
	for _, c := range classifiers {
		if slices.ContainsFunc(c.Supports(), func(cl Classification) bool {
			return slices.Contains(allowed, cl)
		}) {
			active = append(active, c)
		}
	}
	return &ClassifierEngine{
		store:       store,
		source:      source,
		classifiers: active,
		allowed:     slices.Clone(allowed),
		clock:       clock,
		logger:      WithComponent(logger, "engine"),
		metrics:     metrics,
	}
}

// Active returns the names of the classifiers that survived filtering, in order.
func (e *ClassifierEngine) Active() []string {
	names := make([]string, len(e.classifiers))
	for i, c := range e.classifiers {
		names[i] = c.Name()
	}
	return names
}

// ChangeSet is the outcome of classifying a batch: the deletion records to
// journal and the baselines that replace the stored fingerprints.
type ChangeSet struct {
	Records   []*DeletionRecord
	Baselines []*Fingerprint
}

// Classify compares every id against its stored baseline without writing
// anything. The current fingerprint of each id becomes its next baseline
// whether or not a deletion fired. A vanished item keeps its last baseline as
// a tombstone so the same vanish is reported once.
func (e *ClassifierEngine) Classify(ctx context.Context, ids []int64) (ChangeSet, error) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) == 0 {
		return ChangeSet{}, nil
	}

	current, err := e.source.CurrentFingerprints(ctx, ids)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("resolving current fingerprints: %w", err)
	}

	now := e.clock.Now().UTC()
	set := ChangeSet{Baselines: make([]*Fingerprint, 0, len(ids))}

	for _, id := range ids {
		prev, err := e.store.GetFingerprint(ctx, id)
		if err != nil {
			return ChangeSet{}, fmt.Errorf("loading fingerprint for item %d: %w", id, err)
		}

		var curr *Fingerprint
		if fp := current[id]; fp != nil {
			c := *fp
			c.ItemID = id
			c.Timestamp = now
			curr = &c
		}

		if d := e.classify(id, prev, curr); d != nil && prev != nil {
			set.Records = append(set.Records, &DeletionRecord{
				ItemID:               id,
				Origin:               *prev,
				DeletedAt:            now,
				Classification:       d.Classification,
				RecoveredContent:     d.RecoveredContent,
				RecoveredAttachments: d.RecoveredAttachments,
				Metadata:             d.Metadata,
			})
		}

		switch {
		case curr != nil:
			set.Baselines = append(set.Baselines, curr)
		case live(prev):
			set.Baselines = append(set.Baselines, prev.Tombstone(now))
		}
	}
	return set, nil
}

// Process classifies ids, then journals the records and stores the new
// baselines in one transaction. The returned records carry journal ids. If
// the commit fails no baseline moves, so the same transitions fire again on
// the next pass.
func (e *ClassifierEngine) Process(ctx context.Context, ids []int64) ([]*DeletionRecord, error) {
	set, err := e.Classify(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(set.Records) == 0 && len(set.Baselines) == 0 {
		return nil, nil
	}
	if err := e.store.CommitChanges(ctx, set.Records, set.Baselines); err != nil {
		return nil, fmt.Errorf("committing %d records and %d baselines: %w", len(set.Records), len(set.Baselines), err)
	}
	return set.Records, nil
}

// classify runs the active classifiers in order. Failed classifiers are
// logged and count as no result.
func (e *ClassifierEngine) classify(id int64, prev, curr *Fingerprint) *Detection {
	for _, c := range e.classifiers {
		d, err := safeClassify(c, id, prev, curr)
		if err != nil {
			e.logger.Warn("classifier failed", "classifier", c.Name(), "item_id", id, "error", err)
			e.metrics.ClassifierError(c.Name())
			continue
		}
		if d == nil || !slices.Contains(e.allowed, d.Classification) {
			continue
		}
		e.logger.Debug("deletion classified", "classifier", c.Name(), "item_id", id, "classification", d.Classification)
		return d
	}
	return nil
}

func safeClassify(c Classifier, id int64, prev, curr *Fingerprint) (d *Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, err = nil, fmt.Errorf("classifier panicked: %v", r)
		}
	}()
	return c.Classify(id, prev, curr)
}
