package orchestrator

import (
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records cascade outcomes. A nil *Metrics records nothing.
type Metrics struct {
	Attempts         *prometheus.CounterVec
	SynthesisTime    *prometheus.HistogramVec
	Exhausted        prometheus.Counter
	QuotaCharacters  *prometheus.CounterVec
	QuotaCommitFails *prometheus.CounterVec
}

// NewMetrics registers the cascade metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "narrator",
			Subsystem: "synthesis",
			Name:      "attempts_total",
			Help:      "Backend attempts by outcome and reason.",
		}, []string{"backend", "outcome", "reason"}),
		SynthesisTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "narrator",
			Subsystem: "synthesis",
			Name:      "request_seconds",
			Help:      "Wall time of attempted backend calls.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"backend"}),
		Exhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "narrator",
			Subsystem: "synthesis",
			Name:      "exhausted_total",
			Help:      "Requests for which no backend produced audio.",
		}),
		QuotaCharacters: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "narrator",
			Subsystem: "quota",
			Name:      "characters_total",
			Help:      "Characters committed to the usage ledger.",
		}, []string{"backend"}),
		QuotaCommitFails: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "narrator",
			Subsystem: "quota",
			Name:      "commit_failures_total",
			Help:      "Ledger commits rejected after a successful synthesis.",
		}, []string{"backend"}),
	}
}

func (m *Metrics) attempt(attempt core.SynthesisAttempt) {
	if m == nil {
		return
	}

	m.Attempts.WithLabelValues(string(attempt.Backend), string(attempt.Outcome), string(attempt.Reason)).Inc()
}

func (m *Metrics) observe(backend core.BackendID, seconds float64) {
	if m == nil {
		return
	}

	m.SynthesisTime.WithLabelValues(string(backend)).Observe(seconds)
}

func (m *Metrics) exhausted() {
	if m == nil {
		return
	}

	m.Exhausted.Inc()
}

func (m *Metrics) committed(backend core.BackendID, characters int) {
	if m == nil {
		return
	}

	m.QuotaCharacters.WithLabelValues(string(backend)).Add(float64(characters))
}

func (m *Metrics) commitFailed(backend core.BackendID) {
	if m == nil {
		return
	}

	m.QuotaCommitFails.WithLabelValues(string(backend)).Inc()
}
