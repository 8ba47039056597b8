// Package metrics is the ambient instrumentation layer: active session
// count, mapped-target count, login outcome counters and a delivered-
// event counter, all exported as prometheus metrics.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// int64Gauge is a prometheus.GaugeFunc backing store updated from
// arbitrary goroutines without a lock.
type int64Gauge struct {
	v int64 // atomic
}

func (g *int64Gauge) Add(delta int64) {
	atomic.AddInt64(&g.v, delta)
}

func (g *int64Gauge) Float64() float64 {
	return float64(atomic.LoadInt64(&g.v))
}

// Metrics holds the registered collectors for one matrircd process.
type Metrics struct {
	Registry *prometheus.Registry

	sessionsActive int64Gauge
	targetsActive  int64Gauge

	loginSuccessTotal    prometheus.Counter
	loginFailureTotal    prometheus.Counter
	eventsDeliveredTotal prometheus.Counter
}

// New builds and registers the full metric set against a fresh registry.
func New() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}
	factory := promauto.With(m.Registry)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "matrircd_sessions_active",
		Help: "Current number of bridged sessions (one per logged-in downstream client)",
	}, m.sessionsActive.Float64)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "matrircd_targets_active",
		Help: "Current number of mapped targets (rooms, queries and dialogs) across all sessions",
	}, m.targetsActive.Float64)

	m.loginSuccessTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "matrircd_login_success_total",
		Help: "Total number of successful logins, restored or interactive",
	})
	m.loginFailureTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "matrircd_login_failure_total",
		Help: "Total number of failed login attempts",
	})
	m.eventsDeliveredTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "matrircd_events_delivered_total",
		Help: "Total number of upstream events translated and delivered downstream",
	})

	return m
}

func (m *Metrics) SessionStarted() { m.sessionsActive.Add(1) }
func (m *Metrics) SessionEnded()   { m.sessionsActive.Add(-1) }

func (m *Metrics) TargetCreated() { m.targetsActive.Add(1) }
func (m *Metrics) TargetRemoved() { m.targetsActive.Add(-1) }

func (m *Metrics) LoginSucceeded() { m.loginSuccessTotal.Inc() }
func (m *Metrics) LoginFailed()    { m.loginFailureTotal.Inc() }
func (m *Metrics) EventDelivered() { m.eventsDeliveredTotal.Inc() }

// Handler serves the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
