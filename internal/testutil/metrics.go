package testutil

import (
	"sync"

	"imessage-undeleter/internal/tracker"
)

// CountingMetrics tallies tracker observations for assertions.
type CountingMetrics struct {
	mu               sync.Mutex
	Ticks            int
	ChangedTicks     int
	Events           map[tracker.EventKind]int
	Deletions        map[tracker.Classification]int
	Deliveries       map[string]int
	DeliveryFailures map[string]int
	ObserverErrors   int
	ClassifierErrors map[string]int
}

var _ tracker.Metrics = (*CountingMetrics)(nil)

func NewCountingMetrics() *CountingMetrics {
	return &CountingMetrics{
		Events:           map[tracker.EventKind]int{},
		Deletions:        map[tracker.Classification]int{},
		Deliveries:       map[string]int{},
		DeliveryFailures: map[string]int{},
		ClassifierErrors: map[string]int{},
	}
}

func (m *CountingMetrics) Tick(changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ticks++
	if changed {
		m.ChangedTicks++
	}
}

func (m *CountingMetrics) EventProcessed(kind tracker.EventKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events[kind]++
}

func (m *CountingMetrics) DeletionDetected(c tracker.Classification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deletions[c]++
}

func (m *CountingMetrics) SinkDelivery(sink string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.DeliveryFailures[sink]++
		return
	}
	m.Deliveries[sink]++
}

func (m *CountingMetrics) ObserverError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ObserverErrors++
}

func (m *CountingMetrics) ClassifierError(classifier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClassifierErrors[classifier]++
}
