package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExporterMetrics tracks the health of the outbox export path. The parked
// gauge is the operator-facing signal for rows that exhausted their retries.
type ExporterMetrics struct {
	delivered *prometheus.CounterVec
	failed    *prometheus.CounterVec
	batches   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	parked    prometheus.Gauge
}

// NewExporterMetrics registers the exporter metrics on the provided registerer.
func NewExporterMetrics(reg prometheus.Registerer) *ExporterMetrics {
	if reg == nil {
		return &ExporterMetrics{}
	}
	delivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_delivered_total",
		Help: "Outbox records delivered to the sink.",
	}, []string{"path"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_failed_total",
		Help: "Outbox records that failed a delivery attempt.",
	}, []string{"path"})
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_batches_total",
		Help: "Sink batches attempted.",
	}, []string{"path"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_batch_duration_seconds",
		Help:    "Duration of one export batch in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
	parked := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_events_parked",
		Help: "Failed records at the retry bound awaiting operator intervention.",
	})
	reg.MustRegister(delivered, failed, batches, duration, parked)
	return &ExporterMetrics{
		delivered: delivered,
		failed:    failed,
		batches:   batches,
		duration:  duration,
		parked:    parked,
	}
}

// ObserveBatch records the outcome of one export batch.
func (m *ExporterMetrics) ObserveBatch(path string, delivered, failed int, duration time.Duration) {
	if m == nil || m.batches == nil {
		return
	}
	label := normalizeLabel(path)
	m.batches.WithLabelValues(label).Inc()
	m.delivered.WithLabelValues(label).Add(float64(delivered))
	m.failed.WithLabelValues(label).Add(float64(failed))
	m.duration.WithLabelValues(label).Observe(duration.Seconds())
}

// SetParked updates the parked-rows gauge.
func (m *ExporterMetrics) SetParked(count int64) {
	if m == nil || m.parked == nil {
		return
	}
	m.parked.Set(float64(count))
}
