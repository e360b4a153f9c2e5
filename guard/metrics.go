package guard

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts admission decisions per operation.
type Metrics struct {
	Requests *prometheus.CounterVec
}

// NewMetrics registers the guard collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "quota_guarded_requests_total",
				Help: "Requests seen by the admission guard by operation and outcome.",
			},
			[]string{"operation", "allowed", "exempt"},
		),
	}
}

func (m *Metrics) observe(op string, d Decision) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(op, strconv.FormatBool(d.Allowed), strconv.FormatBool(d.Exempt)).Inc()
}
