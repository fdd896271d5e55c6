package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "aster_hedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of orders placed.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order placement failures.",
	})
	hedgesOpened := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "hedges_opened_total",
		Help:      "Total number of two-leg hedges opened.",
	})
	hedgesClosed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "hedges_closed_total",
		Help:      "Total number of two-leg hedges closed.",
	})
	repairs := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "repairs_total",
		Help:      "Total number of single-sided exposure repairs.",
	})
	reconcileFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "reconcile_failed_total",
		Help:      "Total number of reconciliation sweep failures.",
	})

	registry.MustRegister(ordersPlaced, ordersFailed, hedgesOpened, hedgesClosed, repairs, reconcileFailed)

	return &Prometheus{
		Metrics: &Metrics{
			OrdersPlaced:    promCounter{ordersPlaced},
			OrdersFailed:    promCounter{ordersFailed},
			HedgesOpened:    promCounter{hedgesOpened},
			HedgesClosed:    promCounter{hedgesClosed},
			Repairs:         promCounter{repairs},
			ReconcileFailed: promCounter{reconcileFailed},
		},
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
