package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSinkExcluded marks a sink that failed to initialize and was dropped from the run.
var ErrSinkExcluded = errors.New("sink excluded")

// DispatchResult summarizes the delivery of one record.
type DispatchResult struct {
	Delivered int
	Failed    map[string]error
}

// SinkDispatcher delivers journaled records to every active sink in order.
// A failing sink never blocks the ones after it.
type SinkDispatcher struct {
	sinks   []Sink
	logger  Logger
	metrics Metrics

	mu       sync.RWMutex
	active   []Sink
	excluded map[string]error
}

// NewSinkDispatcher creates a dispatcher over sinks in the given order.
func NewSinkDispatcher(sinks []Sink, logger Logger, metrics Metrics) *SinkDispatcher {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &SinkDispatcher{
		sinks:    sinks,
		logger:   WithComponent(logger, "dispatcher"),
		metrics:  metrics,
		excluded: make(map[string]error),
	}
}

// Initialize initializes every sink. Sinks that fail are excluded and logged.
// It returns the number of active sinks.
func (d *SinkDispatcher) Initialize(ctx context.Context) int {
	var active []Sink
	excluded := make(map[string]error)
	for _, s := range d.sinks {
		if err := s.Initialize(ctx); err != nil {
			d.logger.Error("sink initialization failed, excluding sink", "sink", s.Name(), "error", err)
			excluded[s.Name()] = fmt.Errorf("%w: %v", ErrSinkExcluded, err)
			continue
		}
		d.logger.Info("sink initialized", "sink", s.Name())
		active = append(active, s)
	}

	d.mu.Lock()
	d.active = active
	d.excluded = excluded
	d.mu.Unlock()
	return len(active)
}

// Dispatch hands rec to each active sink sequentially.
func (d *SinkDispatcher) Dispatch(ctx context.Context, rec *DeletionRecord) DispatchResult {
	res := DispatchResult{Failed: map[string]error{}}
	for _, s := range d.activeSinks() {
		err := s.Deliver(ctx, rec)
		d.metrics.SinkDelivery(s.Name(), err)
		if err != nil {
			d.logger.Error("sink delivery failed", "sink", s.Name(), "journal_id", rec.JournalID, "error", err)
			res.Failed[s.Name()] = err
			continue
		}
		res.Delivered++
	}
	return res
}

// Finalize finalizes every active sink, retrying each up to attempts times.
// Failures are logged and joined into the returned error.
func (d *SinkDispatcher) Finalize(ctx context.Context, attempts int) error {
	attempts = max(attempts, 1)
	var errs []error
	for _, s := range d.activeSinks() {
		var err error
		for i := 1; i <= attempts; i++ {
			if err = s.Finalize(ctx); err == nil {
				break
			}
			d.logger.Warn("sink finalize failed", "sink", s.Name(), "attempt", i, "error", err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("finalizing sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Active returns the names of the sinks that initialized successfully.
func (d *SinkDispatcher) Active() []string {
	sinks := d.activeSinks()
	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	return names
}

// Excluded returns the initialization error of each excluded sink.
func (d *SinkDispatcher) Excluded() map[string]error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]error, len(d.excluded))
	for k, v := range d.excluded {
		out[k] = v
	}
	return out
}

func (d *SinkDispatcher) activeSinks() []Sink {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active
}
