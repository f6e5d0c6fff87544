package bridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/availproject/avail-nitro-adapter/handles"
	"github.com/availproject/avail-nitro-adapter/types"
)

type metrics struct {
	compiles   *prometheus.CounterVec
	executions *prometheus.CounterVec
	inkUsed    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, registry *handles.Registry) *metrics {
	m := &metrics{
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stylus",
			Name:      "compiles_total",
			Help:      "Programs compiled, by result.",
		}, []string{"result"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stylus",
			Name:      "executions_total",
			Help:      "Program executions, by status.",
		}, []string{"status"}),
		inkUsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stylus",
			Name:      "ink_used_total",
			Help:      "Ink consumed by program executions.",
		}),
	}
	live := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "stylus",
		Name:      "live_handles",
		Help:      "Handles issued to the host and not yet reclaimed.",
	}, func() float64 { return float64(registry.Len()) })

	reg.MustRegister(m.compiles, m.executions, m.inkUsed, live)
	return m
}

func (m *metrics) compiled(ok bool) {
	if ok {
		m.compiles.WithLabelValues("ok").Inc()
	} else {
		m.compiles.WithLabelValues("error").Inc()
	}
}

func (m *metrics) executed(status types.OutcomeKind, ink uint64) {
	m.executions.WithLabelValues(status.String()).Inc()
	m.inkUsed.Add(float64(ink))
}
