package cmdrunner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch outcomes recorded in ccr_dispatches_total.
const (
	outcomeSuccess        = "success"
	outcomeTimeout        = "timeout"
	outcomeNotFound       = "not_found"
	outcomeBotUnavailable = "bot_unavailable"
	outcomeError          = "error"
	outcomeSkipped        = "skipped"
)

// metrics holds the runner's Prometheus metrics.
type metrics struct {
	dispatches      *prometheus.CounterVec
	autoDisabled    prometheus.Counter
	schedulerErrors prometheus.Counter
	latency         prometheus.Histogram
}

// newMetrics registers the collectors on reg. pending reports the size of
// the pending-response table.
func newMetrics(reg prometheus.Registerer, pending func() int) *metrics {
	m := &metrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccr_dispatches_total",
			Help: "Dispatch attempts by job kind and outcome",
		}, []string{"kind", "outcome"}),
		autoDisabled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccr_jobs_auto_disabled_total",
			Help: "Slash jobs disabled because their command no longer exists",
		}),
		schedulerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccr_scheduler_errors_total",
			Help: "Scheduler iterations that failed",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ccr_response_latency_seconds",
			Help:    "Time from dispatch to the correlated bot reply",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15},
		}),
	}
	reg.MustRegister(
		m.dispatches,
		m.autoDisabled,
		m.schedulerErrors,
		m.latency,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ccr_pending_responses",
			Help: "Open pending-response entries",
		}, func() float64 { return float64(pending()) }),
	)
	return m
}

func (m *metrics) recordDispatch(kind, outcome string) {
	m.dispatches.WithLabelValues(kind, outcome).Inc()
}

func (m *metrics) recordResponse(d time.Duration) {
	m.latency.Observe(d.Seconds())
}
