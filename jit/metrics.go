package jit

import (
	prom "github.com/prometheus/client_golang/prometheus"
)

// Compile results used as the "result" label.
const (
	resultOK          = "ok"
	resultUnsupported = "unsupported"
	resultError       = "error"
)

// Metrics are the compiler's Prometheus collectors.
type Metrics struct {
	Compiles     *prom.CounterVec
	CompileTime  prom.Histogram
	DeoptExits   prom.Counter
	Patchpoints  prom.Counter
	Invalidation *prom.CounterVec
	QueueDepth   prom.Gauge
}

// NewMetrics creates the collectors and registers them with reg, which may
// be nil to skip registration.
func NewMetrics(reg prom.Registerer) *Metrics {
	m := &Metrics{
		Compiles: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "jitcore",
			Name:      "compiles_total",
			Help:      "Compilations attempted, by result.",
		}, []string{"result"}),
		CompileTime: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "jitcore",
			Name:      "compile_seconds",
			Help:      "Time spent compiling one unit.",
			Buckets:   prom.ExponentialBuckets(0.0001, 4, 8),
		}),
		DeoptExits: prom.NewCounter(prom.CounterOpts{
			Namespace: "jitcore",
			Name:      "deopt_exits_total",
			Help:      "Deopt exits emitted into compiled code.",
		}),
		Patchpoints: prom.NewCounter(prom.CounterOpts{
			Namespace: "jitcore",
			Name:      "patchpoints_linked_total",
			Help:      "Patchpoints linked to their deopt exit.",
		}),
		Invalidation: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "jitcore",
			Name:      "patched_total",
			Help:      "Patchpoints redirected to their exit, by key.",
		}, []string{"key"}),
		QueueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: "jitcore",
			Name:      "hot_queue_depth",
			Help:      "Units waiting for background compilation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Compiles, m.CompileTime, m.DeoptExits, m.Patchpoints, m.Invalidation, m.QueueDepth)
	}
	return m
}
