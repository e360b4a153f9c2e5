package limiter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the limiter's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	Decisions    *prometheus.CounterVec
	StoreErrors  *prometheus.CounterVec
	StoreLatency *prometheus.HistogramVec
}

// NewMetrics registers the limiter collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quota_decisions_total",
				Help: "Admission decisions by limiter, result and denying scope.",
			},
			[]string{"limiter", "result", "scope"},
		),
		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quota_store_errors_total",
				Help: "Bucket store failures by scope.",
			},
			[]string{"scope"},
		),
		StoreLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quota_store_consume_seconds",
				Help:    "Latency of bucket store consume calls.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"scope"},
		),
	}
}

func (m *Metrics) observeDecision(limiter string, allowed bool, deniedAt Scope) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.Decisions.WithLabelValues(limiter, result, deniedAt.label()).Inc()
}

func (m *Metrics) observeStore(scope Scope, started time.Time, err error) {
	if m == nil {
		return
	}
	m.StoreLatency.WithLabelValues(scope.label()).Observe(time.Since(started).Seconds())
	if err != nil {
		m.StoreErrors.WithLabelValues(scope.label()).Inc()
	}
}
