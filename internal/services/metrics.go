package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"breadcrumbd/internal/events"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Stream metrics
	StreamConnections prometheus.Gauge
	EventsDelivered   prometheus.Counter
	EventsDropped     prometheus.Counter
	FanoutLatency     prometheus.Histogram

	// Breadcrumb metrics
	BreadcrumbOps     *prometheus.CounterVec
	VersionConflicts  prometheus.Counter
	SecretsDecrypted  prometheus.Counter
	BreadcrumbsPurged prometheus.Counter
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics and wires the event
// bus delivery hooks into the delivered/dropped counters.
func InitMetrics(bus *events.Bus) *Metrics {
	metrics := &Metrics{
		// Active stream subscribers (gauge - can go up and down)
		StreamConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "breadcrumbd_stream_connections_active",
			Help: "Number of active event stream connections",
		}),

		EventsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "breadcrumbd_events_delivered_total",
			Help: "Total number of events enqueued to subscriber queues",
		}),

		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "breadcrumbd_events_dropped_total",
			Help: "Total number of events evicted from full subscriber queues",
		}),

		FanoutLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "breadcrumbd_fanout_duration_seconds",
			Help:    "Time spent matching and enqueueing one event across subscribers",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),

		// Breadcrumb operations by type
		BreadcrumbOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "breadcrumbd_breadcrumb_operations_total",
			Help: "Total number of breadcrumb operations by type",
		}, []string{"operation"}), // "create", "update", "delete", "search"

		VersionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "breadcrumbd_version_conflicts_total",
			Help: "Total number of optimistic concurrency rejections",
		}),

		SecretsDecrypted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "breadcrumbd_secrets_decrypted_total",
			Help: "Total number of audited secret reveals",
		}),

		BreadcrumbsPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "breadcrumbd_breadcrumbs_purged_total",
			Help: "Total number of breadcrumbs removed by the TTL sweep",
		}),
	}

	if bus != nil {
		bus.OnDelivered = func(string) { metrics.EventsDelivered.Inc() }
		bus.OnDropped = func(string) { metrics.EventsDropped.Inc() }

		// Subscriber count straight from the bus
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "breadcrumbd_stream_subscribers_current",
				Help: "Current number of registered stream subscribers",
			},
			func() float64 { return float64(bus.SubscriberCount()) },
		))
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordStreamConnect records a new stream connection
func (m *Metrics) RecordStreamConnect() {
	m.StreamConnections.Inc()
}

// RecordStreamDisconnect records a stream disconnection
func (m *Metrics) RecordStreamDisconnect() {
	m.StreamConnections.Dec()
}

// RecordOperation records a breadcrumb operation
func (m *Metrics) RecordOperation(op string) {
	m.BreadcrumbOps.WithLabelValues(op).Inc()
}

// RecordVersionConflict records an optimistic concurrency rejection
func (m *Metrics) RecordVersionConflict() {
	m.VersionConflicts.Inc()
}

// RecordSecretDecrypt records an audited secret reveal
func (m *Metrics) RecordSecretDecrypt() {
	m.SecretsDecrypted.Inc()
}

// RecordPurged records breadcrumbs removed by the TTL sweep
func (m *Metrics) RecordPurged(n int) {
	m.BreadcrumbsPurged.Add(float64(n))
}

// RecordFanoutLatency records one fan-out pass duration
func (m *Metrics) RecordFanoutLatency(seconds float64) {
	m.FanoutLatency.Observe(seconds)
}
