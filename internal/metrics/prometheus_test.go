package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.OrdersFailed.Inc()
	prom.Metrics.HedgesOpened.Inc()
	prom.Metrics.HedgesClosed.Inc()
	prom.Metrics.Repairs.Inc()
	prom.Metrics.ReconcileFailed.Inc()

	counters := map[string]Counter{
		"orders_placed":    prom.Metrics.OrdersPlaced,
		"orders_failed":    prom.Metrics.OrdersFailed,
		"hedges_opened":    prom.Metrics.HedgesOpened,
		"hedges_closed":    prom.Metrics.HedgesClosed,
		"repairs":          prom.Metrics.Repairs,
		"reconcile_failed": prom.Metrics.ReconcileFailed,
	}
	for name, counter := range counters {
		pc, ok := counter.(promCounter)
		if !ok {
			t.Fatalf("%s is not prometheus-backed", name)
		}
		if got := testutil.ToFloat64(pc.counter); got != 1 {
			t.Fatalf("%s expected 1, got %v", name, got)
		}
	}
}

func TestNoopMetricsAreSafe(t *testing.T) {
	m := NewNoop()
	m.OrdersPlaced.Inc()
	m.ReconcileFailed.Inc()
}
