// Package diagnostics exposes tracker metrics to Prometheus and serves
// read-only status endpoints next to the running loop.
package diagnostics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imessage-undeleter/internal/tracker"
)

// Collector implements tracker.Metrics on a private Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	ticks            *prometheus.CounterVec
	events           *prometheus.CounterVec
	deletions        *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	observerErrors   prometheus.Counter
	classifierErrors *prometheus.CounterVec
}

var _ tracker.Metrics = (*Collector)(nil)

// NewCollector creates a collector with every metric under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Poll ticks, by whether the source reported a change.",
		}, []string{"changed"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Change events handled by the coordinator.",
		}, []string{"kind"}),
		deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletions_total",
			Help:      "Deletions journaled, by classification.",
		}, []string{"classification"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_deliveries_total",
			Help:      "Record deliveries per sink and result.",
		}, []string{"sink", "result"}),
		observerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_errors_total",
			Help:      "Failed reads of the monitored store.",
		}),
		classifierErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_errors_total",
			Help:      "Classifier failures, by classifier.",
		}, []string{"classifier"}),
	}

	c.registry.MustRegister(
		c.ticks,
		c.events,
		c.deletions,
		c.deliveries,
		c.observerErrors,
		c.classifierErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Tick(changed bool) {
	label := "false"
	if changed {
		label = "true"
	}
	c.ticks.WithLabelValues(label).Inc()
}

func (c *Collector) EventProcessed(kind tracker.EventKind) {
	c.events.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) DeletionDetected(cl tracker.Classification) {
	c.deletions.WithLabelValues(string(cl)).Inc()
}

func (c *Collector) SinkDelivery(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.deliveries.WithLabelValues(sink, result).Inc()
}

func (c *Collector) ObserverError() {
	c.observerErrors.Inc()
}

func (c *Collector) ClassifierError(classifier string) {
	c.classifierErrors.WithLabelValues(classifier).Inc()
}
