package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments a Relay. A nil *Metrics records nothing.
type Metrics struct {
	published        *prometheus.CounterVec
	failures         *prometheus.CounterVec
	exhausted        prometheus.Counter
	stateUpdateFails prometheus.Counter
	pending          prometheus.Gauge
	cycleLatency     prometheus.Histogram
	purges           *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "txrelay_outbox_published_total",
			Help: "Events published to the broker and marked processed.",
		}, []string{"topic"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "txrelay_outbox_publish_failures_total",
			Help: "Failed deliveries; each one stops its dispatch cycle.",
		}, []string{"topic"}),
		exhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "txrelay_outbox_retries_exhausted_total",
			Help: "Failed deliveries of events already at their retry limit.",
		}),
		stateUpdateFails: factory.NewCounter(prometheus.CounterOpts{
			Name: "txrelay_outbox_state_update_failures_total",
			Help: "Published events that could not be marked processed and will be published again.",
		}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "txrelay_outbox_lag_events",
			Help: "Unprocessed events left in the last fetched batch.",
		}),
		cycleLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "txrelay_outbox_dispatch_duration_seconds",
			Help:    "Latency of one dispatch cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		purges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "txrelay_outbox_purges_total",
			Help: "Retention sweeps by status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) recordPublished(topic string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(topic).Inc()
}

func (m *Metrics) recordFailure(topic string, exhausted bool) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(topic).Inc()
	if exhausted {
		m.exhausted.Inc()
	}
}

func (m *Metrics) recordStateUpdateFailure() {
	if m == nil {
		return
	}
	m.stateUpdateFails.Inc()
}

func (m *Metrics) recordCycle(res Result, seconds float64) {
	if m == nil {
		return
	}
	m.pending.Set(float64(res.Fetched - res.Processed))
	m.cycleLatency.Observe(seconds)
}

func (m *Metrics) recordPurge(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.purges.WithLabelValues(status).Inc()
}
