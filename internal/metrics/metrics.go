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

	phaseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rembgd",
			Subsystem: "supervisor",
			Name:      "phase_transitions_total",
			Help:      "Number of supervisor phase transitions.",
		}, []string{"from", "to"},
	)
	currentPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rembgd",
			Subsystem: "supervisor",
			Name:      "current_phase",
			Help:      "Current supervisor phase (1 = active phase, 0 = inactive).",
		}, []string{"phase"},
	)
	helperRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rembgd",
			Subsystem: "supervisor",
			Name:      "helper_restarts_total",
			Help:      "Number of automatic helper restarts after a crash.",
		},
	)
	healthProbes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rembgd",
			Subsystem: "health",
			Name:      "probe_duration_seconds",
			Help:      "Health probe round-trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"},
	)
	healthFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rembgd",
			Subsystem: "health",
			Name:      "probe_failures_total",
			Help:      "Number of unhealthy probe samples.",
		},
	)
	gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rembgd",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Number of requests forwarded to the helper, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"},
	)
	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rembgd",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Duration of requests forwarded to the helper.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"endpoint"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{phaseTransitions, currentPhase, helperRestarts, healthProbes, healthFailures, gatewayRequests, gatewayDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func RecordPhaseTransition(from, to string) {
	if regOK.Load() {
		phaseTransitions.WithLabelValues(from, to).Inc()
	}
}

func SetCurrentPhase(phase string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentPhase.WithLabelValues(phase).Set(value)
	}
}

func IncRestart() {
	if regOK.Load() {
		helperRestarts.Inc()
	}
}

func ObserveProbe(seconds float64, healthy bool) {
	if !regOK.Load() {
		return
	}
	outcome := "healthy"
	if !healthy {
		outcome = "unhealthy"
		healthFailures.Inc()
	}
	healthProbes.WithLabelValues(outcome).Observe(seconds)
}

func ObserveGatewayRequest(endpoint string, seconds float64, ok bool) {
	if !regOK.Load() {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	gatewayRequests.WithLabelValues(endpoint, outcome).Inc()
	gatewayDuration.WithLabelValues(endpoint).Observe(seconds)
}
