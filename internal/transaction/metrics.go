package transaction

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeCommitted     = "committed"
	outcomeRolledBack    = "rolled_back"
	outcomeCommitFailed  = "commit_failed"
	outcomePanicked      = "panicked"
	outcomeNestedRefused = "nested_refused"
)

// Metrics records coordinator outcomes. A nil *Metrics records nothing.
type Metrics struct {
	runs             *prometheus.CounterVec
	duration         prometheus.Histogram
	participants     prometheus.Histogram
	rollbackFailures *prometheus.CounterVec
	partialCommits   prometheus.Counter
}

// NewMetrics registers the coordinator collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "txrelay_transactions_total",
			Help: "Total number of coordinated transactions by outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "txrelay_transaction_duration_seconds",
			Help:    "Latency of coordinated transactions including the commit or rollback sweep.",
			Buckets: prometheus.DefBuckets,
		}),
		participants: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "txrelay_transaction_participants",
			Help:    "Number of participants registered per transaction.",
			Buckets: []float64{0, 1, 2, 3, 4, 6, 8},
		}),
		rollbackFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "txrelay_transaction_rollback_failures_total",
			Help: "Rollback errors swallowed during the rollback sweep, by resource key.",
		}, []string{"resource"}),
		partialCommits: factory.NewCounter(prometheus.CounterOpts{
			Name: "txrelay_transaction_partial_commits_total",
			Help: "Commit sweeps that failed after at least one participant had committed.",
		}),
	}
}

func (m *Metrics) observe(outcome string, participants int, start time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.Observe(time.Since(start).Seconds())
	m.participants.Observe(float64(participants))
}

func (m *Metrics) refused() {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcomeNestedRefused).Inc()
}

func (m *Metrics) rollbackFailed(resource string) {
	if m == nil {
		return
	}
	m.rollbackFailures.WithLabelValues(resource).Inc()
}

func (m *Metrics) partialCommit() {
	if m == nil {
		return
	}
	m.partialCommits.Inc()
}
