package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/monark/workshop/ledger"
)

// Metrics holds the workshop's Prometheus collectors on a private registry,
// so every router (and every test) gets its own set.
type Metrics struct {
	registry *prometheus.Registry

	// OrderOperations counts order operations by name and outcome.
	OrderOperations *prometheus.CounterVec
	// SettledAmount observes each party's share at settlement.
	SettledAmount *prometheus.HistogramVec
	// ManualMovements counts deposits and withdrawals.
	ManualMovements *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		OrderOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workshop",
			Name:      "order_operations_total",
			Help:      "Order operations by operation and result.",
		}, []string{"operation", "result"}),
		SettledAmount: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workshop",
			Name:      "settled_amount",
			Help:      "Amount credited per party when an order is settled.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"party"}),
		ManualMovements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workshop",
			Name:      "manual_movements_total",
			Help:      "Manual wallet movements by direction.",
		}, []string{"direction"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// observeOperation records an operation outcome: ok, client_error,
// not_found, conflict or error.
func (m *Metrics) observeOperation(operation string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case ledger.IsClientError(err):
		result = "client_error"
	case ledger.IsNotFound(err):
		result = "not_found"
	case ledger.IsConflict(err):
		result = "conflict"
	default:
		result = "error"
	}
	m.OrderOperations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) observeSettlement(s ledger.Split) {
	mech, _ := s.MechanicShare.Value.Float64()
	shop, _ := s.ShopTotalShare.Value.Float64()
	m.SettledAmount.WithLabelValues("mechanic").Observe(mech)
	m.SettledAmount.WithLabelValues("shop").Observe(shop)
}

func (m *Metrics) observeManual(a ledger.Amount) {
	direction := "deposit"
	if a.IsNegative() {
		direction = "withdrawal"
	}
	m.ManualMovements.WithLabelValues(direction).Inc()
}
