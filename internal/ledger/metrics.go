package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	commands *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_account_commands_total",
			Help: "Account commands by command and outcome.",
		}, []string{"command", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_account_command_latency_seconds",
			Help:    "Latency of account commands including their transaction.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
	}
}

func (m *Metrics) record(command string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.commands.WithLabelValues(command, status).Inc()
	m.latency.WithLabelValues(command).Observe(time.Since(start).Seconds())
}
