package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lokivisor"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Lifecycle operations by name and result (ok, rejected, failed).",
		}, []string{"operation", "result"},
	)
	managedStopRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "managed_stop",
			Name:      "runs_total",
			Help:      "Finished managed stop runs by outcome.",
		}, []string{"outcome"},
	)
	managedStopActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "managed_stop",
			Name:      "active",
			Help:      "1 while a managed stop run is in flight.",
		},
	)
	statusQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "queries_total",
			Help:      "Status reads served from the cache or by querying the driver.",
		}, []string{"source"},
	)
	statusQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "query_duration_seconds",
			Help:      "Time spent querying the driver for the process state.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Number of transitions between observed process states.",
		}, []string{"from", "to"},
	)
	scheduleRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "runs_total",
			Help:      "Scheduled lifecycle actions fired, by entry name and result.",
		}, []string{"name", "result"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "current_state",
			Help:      "Current state of the process (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{operations, managedStopRuns, managedStopActive, statusQueries, statusQueryDuration, stateTransitions, currentStates, scheduleRuns}
	for _, c := range cs {
		if err := register(r, c); err != nil {
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// register ignores AlreadyRegisteredError so Register can run against the default registry twice.
func register(r prometheus.Registerer, c prometheus.Collector) error {
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics gathered from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

// Operation results.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

func IncOperation(operation, result string) {
	if regOK.Load() {
		operations.WithLabelValues(operation, result).Inc()
	}
}

func IncManagedStopRun(outcome string) {
	if regOK.Load() {
		managedStopRuns.WithLabelValues(outcome).Inc()
	}
}

func SetManagedStopActive(active bool) {
	if regOK.Load() {
		managedStopActive.Set(boolValue(active))
	}
}

func IncStatusQuery(source string) {
	if regOK.Load() {
		statusQueries.WithLabelValues(source).Inc()
	}
}

func ObserveStatusQueryDuration(seconds float64) {
	if regOK.Load() {
		statusQueryDuration.Observe(seconds)
	}
}

func IncScheduleRun(name, result string) {
	if regOK.Load() {
		scheduleRuns.WithLabelValues(name, result).Inc()
	}
}

// RecordStateTransition counts from -> to and flips the current_state gauges.
func RecordStateTransition(from, to string) {
	if !regOK.Load() || from == to {
		return
	}
	stateTransitions.WithLabelValues(from, to).Inc()
	currentStates.WithLabelValues(from).Set(0)
	currentStates.WithLabelValues(to).Set(1)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
