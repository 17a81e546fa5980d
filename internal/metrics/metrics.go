// Package metrics exports reconciliation counters for the running core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/utils/clock"

	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/reconcile"
)

const subsystem = "handoff"

// Metrics holds one registry per process. The zero value is not usable.
type Metrics struct {
	registry *prometheus.Registry
	clock    clock.PassiveClock

	started       *prometheus.CounterVec
	signals       *prometheus.CounterVec
	verifications *prometheus.CounterVec
	finished      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry. clk measures operation
// duration against Operation.CreatedAt; nil means the real clock.
func New(clk clock.PassiveClock) *Metrics {
	if clk == nil {
		clk = clock.RealClock{}
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		clock:    clk,
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "operations_started_total",
				Help:      "Count of operations started, by kind.",
			},
			[]string{"kind"},
		),
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "signals_total",
				Help:      "Count of completion signals delivered to a coordinator, by kind, source and disposition.",
			},
			[]string{"kind", "source", "disposition"},
		),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "verifications_total",
				Help:      "Count of backend verification results, by kind and result.",
			},
			[]string{"kind", "result"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "operations_finished_total",
				Help:      "Count of operations reaching a terminal status, by kind and status.",
			},
			[]string{"kind", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      "operation_duration_seconds",
				Help:      "Time from start to terminal status, by kind and status.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind", "status"},
		),
	}
	m.registry.MustRegister(m.started, m.signals, m.verifications, m.finished, m.duration)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Trace returns a coordinator trace hook that counts decisions for kind.
func (m *Metrics) Trace(kind ir.Kind) func(ir.TraceEvent) {
	k := string(kind)
	return func(ev ir.TraceEvent) {
		switch ev.Type {
		case ir.TraceStarted:
			m.started.WithLabelValues(k).Inc()
		case ir.TraceSignal, ir.TraceIgnored:
			disposition := ev.Detail
			if disposition == "" {
				disposition = ev.Type
			}
			m.signals.WithLabelValues(k, string(ev.Source), disposition).Inc()
		case ir.TraceVerification:
			m.verifications.WithLabelValues(k, ev.Detail).Inc()
		}
	}
}

// OnProgress implements reconcile.Observer.
func (m *Metrics) OnProgress(ir.Operation) {}

// OnTerminal implements reconcile.Observer.
func (m *Metrics) OnTerminal(r reconcile.Result) {
	op := r.Operation
	labels := []string{string(op.Kind), string(op.Status)}
	m.finished.WithLabelValues(labels...).Inc()
	if !op.CreatedAt.IsZero() {
		d := m.clock.Since(op.CreatedAt)
		if d < 0 {
			d = 0
		}
		m.duration.WithLabelValues(labels...).Observe(d.Seconds())
	}
}

var _ reconcile.Observer = (*Metrics)(nil)

// Observers fans one callback out to several observers in order.
type Observers []reconcile.Observer

// OnProgress implements reconcile.Observer.
func (obs Observers) OnProgress(op ir.Operation) {
	for _, o := range obs {
		o.OnProgress(op)
	}
}

// OnTerminal implements reconcile.Observer.
func (obs Observers) OnTerminal(r reconcile.Result) {
	for _, o := range obs {
		o.OnTerminal(r)
	}
}

