package metrics

import (
	"mercator-hq/tally/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics tracks the fire-and-forget write path.
//
// Metrics:
//   - tally_analytics_ingest_writes_total: Writes by category and outcome
//   - tally_analytics_ingest_dropped_total: Writes dropped on a full queue
//   - tally_analytics_ingest_queue_depth: Writes waiting for a worker
type IngestMetrics struct {
	writesTotal  *prometheus.CounterVec
	droppedTotal *prometheus.CounterVec
	queueDepth   prometheus.Gauge
}

// NewIngestMetrics creates and registers ingest metrics with the provided registry.
func NewIngestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *IngestMetrics {
	im := &IngestMetrics{
		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ingest_writes_total",
				Help:      "Total number of analytics writes by outcome",
			},
			[]string{"category", "status"},
		),
		droppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ingest_dropped_total",
				Help:      "Total number of analytics writes dropped because the queue was full",
			},
			[]string{"category"},
		),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ingest_queue_depth",
			Help:      "Number of analytics writes waiting in the dispatch queue",
		}),
	}

	registry.MustRegister(
		im.writesTotal,
		im.droppedTotal,
		im.queueDepth,
	)

	return im
}

// RecordWrite counts one write.
func (im *IngestMetrics) RecordWrite(category, status string) {
	im.writesTotal.WithLabelValues(category, status).Inc()
}

// RecordDrop counts one dropped write.
func (im *IngestMetrics) RecordDrop(category string) {
	im.droppedTotal.WithLabelValues(category).Inc()
}

// UpdateQueueDepth sets the queue depth gauge.
func (im *IngestMetrics) UpdateQueueDepth(depth int) {
	im.queueDepth.Set(float64(depth))
}
