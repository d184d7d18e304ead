package meter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ineyio/guestgate"
)

// PrometheusMeter exports admission decisions as Prometheus metrics.
type PrometheusMeter struct {
	decisions    *prometheus.CounterVec
	storeErrors  *prometheus.CounterVec
	costReserved prometheus.Counter
	ledgerTotal  prometheus.Gauge
	ledgerCap    prometheus.Gauge
	duration     *prometheus.HistogramVec
	deviceSoft   prometheus.Counter
}

var _ guestgate.Meter = (*PrometheusMeter)(nil)

// NewPrometheusMeter registers the guestgate collectors with reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewPrometheusMeter(reg prometheus.Registerer) *PrometheusMeter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMeter{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guestgate_decisions_total",
				Help: "Total number of admission decisions by result and reason",
			},
			[]string{"result", "reason"},
		),

		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guestgate_store_errors_total",
				Help: "Total number of failed counter store operations",
			},
			[]string{"policy"},
		),

		costReserved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "guestgate_cost_reserved_units_total",
				Help: "Cost units reserved in the daily ledger by this instance",
			},
		),

		ledgerTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "guestgate_ledger_units",
				Help: "Last observed daily ledger total in cost units",
			},
		),

		ledgerCap: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "guestgate_ledger_cap_units",
				Help: "Daily ledger cap in cost units",
			},
		),

		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guestgate_evaluate_duration_seconds",
				Help:    "Duration of Evaluate calls in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~800ms
			},
			[]string{"result"},
		),

		deviceSoft: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "guestgate_device_soft_limit_reached_total",
				Help: "Admitted requests whose device fingerprint reached its advisory daily limit",
			},
		),
	}
}

func (m *PrometheusMeter) OnDecision(e guestgate.DecisionEvent) {
	result := "admitted"
	reason := "none"
	if !e.Admitted {
		result = "rejected"
		reason = string(e.Reason)
	}
	m.decisions.WithLabelValues(result, reason).Inc()
	m.duration.WithLabelValues(result).Observe(e.Duration.Seconds())

	if e.LedgerCap > 0 {
		m.ledgerCap.Set(float64(e.LedgerCap))
	}
	if e.LedgerTotal > 0 {
		m.ledgerTotal.Set(float64(e.LedgerTotal))
	}
	if e.CostUnits > 0 {
		m.costReserved.Add(float64(e.CostUnits))
	}
	if e.Advisory.Exhausted() {
		m.deviceSoft.Inc()
	}
}

func (m *PrometheusMeter) OnStoreError(e guestgate.StoreErrorEvent) {
	m.storeErrors.WithLabelValues(e.Policy).Inc()
}
