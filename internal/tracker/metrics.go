package tracker

// Metrics receives counters from the tracker loop.
type Metrics interface {
	Tick(changed bool)
	EventProcessed(kind EventKind)
	DeletionDetected(c Classification)
	SinkDelivery(sink string, err error)
	ObserverError()
	ClassifierError(classifier string)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) Tick(bool)                       {}
func (NopMetrics) EventProcessed(EventKind)        {}
func (NopMetrics) DeletionDetected(Classification) {}
func (NopMetrics) SinkDelivery(string, error)      {}
func (NopMetrics) ObserverError()                  {}
func (NopMetrics) ClassifierError(string)          {}
