package lock

import "github.com/prometheus/client_golang/prometheus"

// Label and status constants, grounded on the teacher's
// pkg/metadata/lock/metrics.go naming convention.
const (
	LabelType   = "type"
	LabelStatus = "status"

	StatusGranted = "granted"
	StatusDenied  = "denied"
)

// Metrics provides Prometheus counters for the lock server's grant,
// release and revocation activity.
type Metrics struct {
	acquireTotal *prometheus.CounterVec
	releaseTotal prometheus.Counter
	revokeTotal  prometheus.Counter
}

// NewMetrics creates lock metrics and registers them against registry.
// If registry is nil the collectors are created but not registered,
// which is convenient in unit tests that construct a Server without a
// running metrics endpoint.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		acquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tangramfs",
				Subsystem: "lock",
				Name:      "acquire_total",
				Help:      "Total number of lock acquire attempts by type and outcome.",
			},
			[]string{LabelType, LabelStatus},
		),
		releaseTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tangramfs",
				Subsystem: "lock",
				Name:      "release_total",
				Help:      "Total number of tokens released.",
			},
		),
		revokeTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tangramfs",
				Subsystem: "lock",
				Name:      "revoke_total",
				Help:      "Total number of tokens revoked to resolve a WR conflict.",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(m.acquireTotal, m.releaseTotal, m.revokeTotal)
	}
	return m
}

// ObserveAcquire records the outcome of an acquire attempt.
func (m *Metrics) ObserveAcquire(typ Type, granted bool) {
	status := StatusDenied
	if granted {
		status = StatusGranted
	}
	m.acquireTotal.WithLabelValues(typ.String(), status).Inc()
}

// ObserveRelease records a token release.
func (m *Metrics) ObserveRelease() {
	m.releaseTotal.Inc()
}

// ObserveRevoke records a token revocation.
func (m *Metrics) ObserveRevoke() {
	m.revokeTotal.Inc()
}
