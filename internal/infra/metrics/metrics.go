package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics: счётчики синхронизации и расчёта цен.
type Metrics struct {
	Deltas       *prometheus.CounterVec
	SweepSeconds *prometheus.HistogramVec
	Pending      *prometheus.GaugeVec
	TierWarnings prometheus.Counter
	Calculations *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Deltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "sync",
			Name:      "deltas_total",
			Help:      "Staged deltas processed by reconciliation sweeps, by kind and result.",
		}, []string{"kind", "result"}),
		SweepSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "catalog",
			Subsystem: "sync",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one reconciliation sweep.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		Pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "catalog",
			Subsystem: "sync",
			Name:      "pending_deltas",
			Help:      "Staged deltas not yet applied, as of the last status read.",
		}, []string{"kind"}),
		TierWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "sync",
			Name:      "tier_warnings_total",
			Help:      "Applied price records whose volume tiers look inconsistent.",
		}),
		Calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "pricing",
			Name:      "calculations_total",
			Help:      "Price calculations by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Deltas, m.SweepSeconds, m.Pending, m.TierWarnings, m.Calculations)
	}
	return m
}

// ObserveSweep пишет длительность прохода. Безопасно для nil.
func (m *Metrics) ObserveSweep(kind string, started time.Time) {
	if m == nil {
		return
	}
	m.SweepSeconds.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

func (m *Metrics) CountDelta(kind, result string) {
	if m == nil {
		return
	}
	m.Deltas.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) CountTierWarning() {
	if m == nil {
		return
	}
	m.TierWarnings.Inc()
}

func (m *Metrics) SetPending(kind string, n int) {
	if m == nil {
		return
	}
	m.Pending.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) CountCalculation(result string) {
	if m == nil {
		return
	}
	m.Calculations.WithLabelValues(result).Inc()
}
