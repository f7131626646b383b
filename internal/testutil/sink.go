package testutil

import (
	"context"
	"sync"

	"imessage-undeleter/internal/tracker"
)

// RecordingSink keeps every delivered record in memory. Errors can be
// injected for each lifecycle call.
type RecordingSink struct {
	name string

	mu               sync.Mutex
	records          []*tracker.DeletionRecord
	initErr          error
	deliverErr       error
	finalizeErr      error
	finalizeFailures int

	Initialized int
	Finalized   int
}

var _ tracker.Sink = (*RecordingSink)(nil)

func NewRecordingSink(name string) *RecordingSink {
	return &RecordingSink{name: name}
}

// FailInitialize makes Initialize return err.
func (s *RecordingSink) FailInitialize(err error) *RecordingSink {
	s.initErr = err
	return s
}

// FailDeliver makes every Deliver return err.
func (s *RecordingSink) FailDeliver(err error) *RecordingSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliverErr = err
	return s
}

// FailFinalize makes the next n Finalize calls return err.
func (s *RecordingSink) FailFinalize(err error, n int) *RecordingSink {
	s.finalizeErr = err
	s.finalizeFailures = n
	return s
}

func (s *RecordingSink) Name() string { return s.name }

func (s *RecordingSink) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Initialized++
	return s.initErr
}

func (s *RecordingSink) Deliver(ctx context.Context, rec *tracker.DeletionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliverErr != nil {
		return s.deliverErr
	}
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

func (s *RecordingSink) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Finalized++
	if s.finalizeFailures > 0 {
		s.finalizeFailures--
		return s.finalizeErr
	}
	return nil
}

// Records returns a copy of the delivered records in delivery order.
func (s *RecordingSink) Records() []*tracker.DeletionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*tracker.DeletionRecord, len(s.records))
	copy(out, s.records)
	return out
}
