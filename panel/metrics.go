package panel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts panel activity.
type Metrics struct {
	Recomputes    *prometheus.CounterVec
	PriceTriggers prometheus.Counter
	Positions     *prometheus.CounterVec
}

// NewMetrics registers the panel metrics with reg. A nil reg uses a
// private registry, which keeps tests independent.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "trade_inputs"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Recomputes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "panel",
			Name:      "recomputes_total",
			Help:      "Input recomputations by panel variant and outcome.",
		}, []string{"variant", "outcome"}),
		PriceTriggers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "panel",
			Name:      "price_triggers_total",
			Help:      "Recomputations caused by token price changes.",
		}),
		Positions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "panel",
			Name:      "positions_total",
			Help:      "Position submissions by side and result.",
		}, []string{"side", "result"}),
	}
}
