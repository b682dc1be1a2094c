package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service launches.",
		}, []string{"name"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"name"},
	)
	killEscalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "kill_escalations_total",
			Help:      "Number of stops that escalated to SIGKILL after the grace period.",
		}, []string{"name"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "launch_failures_total",
			Help:      "Number of OS-level spawn failures.",
		}, []string{"name"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "current_state",
			Help:      "Current state of services (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceRestarts, serviceStops, killEscalations, launchFailures, currentStates}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart(name string)          { serviceStarts.WithLabelValues(name).Inc() }
func IncRestart(name string)        { serviceRestarts.WithLabelValues(name).Inc() }
func IncStop(name string)           { serviceStops.WithLabelValues(name).Inc() }
func IncKillEscalation(name string) { killEscalations.WithLabelValues(name).Inc() }
func IncLaunchFailure(name string)  { launchFailures.WithLabelValues(name).Inc() }

// SetCurrentState flips the per-state gauge for a service.
func SetCurrentState(name, state string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	currentStates.WithLabelValues(name, state).Set(v)
}
