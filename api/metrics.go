package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the control plane's own operational counters, exposed on
// /metrics for scraping.
type Metrics struct {
	registry *prometheus.Registry

	ShiftsStarted   *prometheus.CounterVec
	ShiftsCompleted *prometheus.CounterVec
	Rollbacks       prometheus.Counter
	Resolutions     *prometheus.CounterVec
}

// NewMetrics creates an isolated metrics registry; each server (and each
// test) gets its own instead of sharing the default one.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ShiftsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shiftsmith_shifts_started_total",
			Help: "Traffic shifts started, by strategy.",
		}, []string{"strategy"}),
		ShiftsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shiftsmith_shifts_completed_total",
			Help: "Traffic shifts completed, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		Rollbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "shiftsmith_rollbacks_total",
			Help: "Automatic rollbacks performed.",
		}),
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shiftsmith_dependency_resolutions_total",
			Help: "Dependency graph resolutions, by outcome.",
		}, []string{"outcome"}),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
