// Package metrics wires the runtime's Prometheus counters and histograms.
// Every collector here is optional: components
// accept a *Registry (or the hook closures it exposes) and must work when
// it is nil, so unit tests never need a live Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every collector the runtime exposes on the admin HTTP
// mux's /metrics route.
type Registry struct {
	reg *prometheus.Registry

	BusDropped      *prometheus.CounterVec
	RouterRetries   *prometheus.CounterVec
	RouterFailovers *prometheus.CounterVec
	ScheduleRuns    *prometheus.HistogramVec
	WaitTaskPolls   *prometheus.CounterVec
}

// New builds a Registry with its own prometheus.Registry (not the global
// DefaultRegisterer) so repeated construction in tests never panics on a
// duplicate-collector registration.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		BusDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaymesh_bus_events_dropped_total",
			Help: "Events dropped because a subscriber's queue was full.",
		}, []string{"topic"}),
		RouterRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaymesh_router_retries_total",
			Help: "LLM provider call retries, by candidate.",
		}, []string{"provider", "model"}),
		RouterFailovers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaymesh_router_failovers_total",
			Help: "Candidate chain failovers after retries were exhausted.",
		}, []string{"provider", "model"}),
		ScheduleRuns: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaymesh_schedule_run_duration_seconds",
			Help:    "Duration of a completed scheduled task run.",
			Buckets: prometheus.DefBuckets,
		}, []string{"schedule_id", "status"}),
		WaitTaskPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaymesh_wait_task_polls_total",
			Help: "Wait-task condition checks, by resulting status.",
		}, []string{"status"}),
	}
}

// Handler exposes the registry's collectors for a /metrics route.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
