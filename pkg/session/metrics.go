package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reply outcome labels.
const (
	ReplyOutcomeSent      = "sent"
	ReplyOutcomeCancelled = "cancelled"
	ReplyOutcomeEmpty     = "empty"
	ReplyOutcomeError     = "error"
)

// Metrics collects call-level Prometheus metrics.
type Metrics struct {
	// ActiveCalls is the number of call sessions currently running.
	ActiveCalls prometheus.Gauge

	// CallDuration measures call lifetime in seconds.
	// Buckets: 5s, 15s, 30s, 60s, 120s, 300s, 600s, 1800s
	CallDuration prometheus.Histogram

	// UtterancesTotal counts finalized caller utterances accepted by the
	// aggregator (after debounce).
	UtterancesTotal prometheus.Counter

	// RepliesTotal counts reply pipeline completions.
	// Labels: outcome (sent|cancelled|empty|error)
	RepliesTotal *prometheus.CounterVec

	// FramesSentTotal counts outbound audio frames sent to the carrier.
	FramesSentTotal prometheus.Counter

	// ReplyLatency measures utterance-to-first-frame latency in seconds.
	// Buckets: 0.25s, 0.5s, 1s, 2s, 3s, 5s, 10s
	ReplyLatency prometheus.Histogram
}

// NewMetrics creates and registers call metrics on reg. Call once per
// registry; typically with prometheus.DefaultRegisterer at startup.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "call_server_active_calls",
			Help: "Current number of live call sessions",
		}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "call_server_call_duration_seconds",
			Help:    "Duration of completed calls in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		UtterancesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "call_server_utterances_total",
			Help: "Total finalized caller utterances accepted after debounce",
		}),
		RepliesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "call_server_replies_total",
			Help: "Total reply pipeline completions by outcome",
		}, []string{"outcome"}),
		FramesSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "call_server_frames_sent_total",
			Help: "Total outbound audio frames sent to the carrier",
		}),
		ReplyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "call_server_reply_latency_seconds",
			Help:    "Latency from accepted utterance to first outbound frame",
			Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 10},
		}),
	}
}

// CallStarted increments the active-calls gauge.
func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.ActiveCalls.Inc()
}

// CallEnded decrements the active-calls gauge and records duration.
func (m *Metrics) CallEnded(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
	m.CallDuration.Observe(durationSeconds)
}

// UtteranceAccepted counts one debounced utterance.
func (m *Metrics) UtteranceAccepted() {
	if m == nil {
		return
	}
	m.UtterancesTotal.Inc()
}

// ReplyFinished counts one reply pipeline completion.
func (m *Metrics) ReplyFinished(outcome string) {
	if m == nil {
		return
	}
	m.RepliesTotal.WithLabelValues(outcome).Inc()
}

// FramesSent counts n outbound frames.
func (m *Metrics) FramesSent(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FramesSentTotal.Add(float64(n))
}

// ObserveReplyLatency records utterance-to-first-frame latency.
func (m *Metrics) ObserveReplyLatency(seconds float64) {
	if m == nil {
		return
	}
	m.ReplyLatency.Observe(seconds)
}
