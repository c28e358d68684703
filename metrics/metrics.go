package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatrelay"

// OutcomeRejected is recorded for requests that fail validation.
const OutcomeRejected = "rejected"

// Metrics for chat requests.
//
//   - chatrelay_chat_requests_total: requests by outcome
//   - chatrelay_chat_deltas_total: content events relayed to clients
//   - chatrelay_chat_relay_duration_seconds: time spent relaying, by outcome
type Metrics struct {
	requests *prometheus.CounterVec
	deltas   prometheus.Counter
	duration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "chat",
				Name:      "requests_total",
				Help:      "Total number of chat requests by outcome.",
			},
			[]string{"outcome"},
		),
		deltas: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "chat",
				Name:      "deltas_total",
				Help:      "Total number of content deltas relayed to clients.",
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "chat",
				Name:      "relay_duration_seconds",
				Help:      "Duration of relayed completions in seconds.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(m.requests, m.deltas, m.duration)
	return m
}

func (m *Metrics) Rejected() {
	m.requests.WithLabelValues(OutcomeRejected).Inc()
}

func (m *Metrics) Relayed(outcome string, deltas int, d time.Duration) {
	m.requests.WithLabelValues(outcome).Inc()
	m.deltas.Add(float64(deltas))
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
