package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hl_hedger"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
	}
	p.Metrics = &Metrics{
		SagasStarted:     p.counter("sagas_started_total", "Hedge sagas accepted for execution."),
		SagasSucceeded:   p.counter("sagas_succeeded_total", "Hedge sagas that reached the filled stage."),
		SagasFailed:      p.counter("sagas_failed_total", "Hedge sagas that ended in error."),
		Rollbacks:        p.counter("rollbacks_total", "Compensation runs after a prepared saga failed."),
		RollbackFailures: p.counter("rollback_failures_total", "Compensation runs with at least one failed step."),
		OrdersPlaced:     p.counter("orders_placed_total", "Hedge orders accepted by the venue."),
		OrdersRejected:   p.counter("orders_rejected_total", "Hedge orders rejected by the venue."),
		FillFallbacks:    p.counter("fill_fallbacks_total", "Fills confirmed from position reconciliation."),
		CallersAbandoned: p.counter("callers_abandoned_total", "Requests whose caller disconnected before the saga finished."),
	}
	return p
}

func (p *Prometheus) counter(name, help string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(c)
	p.counters[name] = c
	return promCounter{c}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
