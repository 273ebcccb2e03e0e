// Package metrics collects bridge, task and event counters for Prometheus.
//
// Every method is safe on a nil *Collector so components can run without
// metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Collector holds the convert metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	bridgeCalls   *prometheus.CounterVec
	bridgeLatency prometheus.Histogram
	lockWait      prometheus.Histogram
	backendLoads  prometheus.Counter

	tasksStarted  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	tasksRunning  prometheus.Gauge
}

// NewCollector creates a collector and registers all metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		bridgeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convert_bridge_calls_total",
			Help: "Calls into the embedded runtime by service and outcome",
		}, []string{"service", "outcome"}),
		bridgeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "convert_bridge_call_seconds",
			Help:    "Time spent inside the embedded runtime per call",
			Buckets: prometheus.DefBuckets,
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "convert_bridge_lock_wait_seconds",
			Help:    "Time callers waited for the runtime lock",
			Buckets: prometheus.DefBuckets,
		}),
		backendLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "convert_backend_loads_total",
			Help: "Backend module load attempts",
		}),
		tasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convert_tasks_started_total",
			Help: "Background tasks started by kind",
		}, []string{"kind"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convert_tasks_finished_total",
			Help: "Background tasks finished by kind and outcome",
		}, []string{"kind", "outcome"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "convert_tasks_running",
			Help: "Background tasks currently holding a worker slot",
		}),
	}

	c.registry.MustRegister(
		c.bridgeCalls,
		c.bridgeLatency,
		c.lockWait,
		c.backendLoads,
		c.tasksStarted,
		c.tasksFinished,
		c.tasksRunning,
	)
	return c
}

// Registry exposes the underlying registry (tests, extra collectors).
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveEvents registers counters read from the progress hub on scrape.
func (c *Collector) ObserveEvents(published, dropped func() uint64) {
	if c == nil {
		return
	}
	c.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "convert_events_published_total",
			Help: "Progress events published on the hub",
		}, func() float64 { return float64(published()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "convert_events_dropped_total",
			Help: "Progress events dropped for slow subscribers",
		}, func() float64 { return float64(dropped()) }),
	)
}

// RecordBridgeCall records one completed call into the runtime.
func (c *Collector) RecordBridgeCall(service, outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.bridgeCalls.WithLabelValues(service, outcome).Inc()
	c.bridgeLatency.Observe(seconds)
}

// RecordLockWait records how long a caller waited for the runtime lock.
func (c *Collector) RecordLockWait(seconds float64) {
	if c == nil {
		return
	}
	c.lockWait.Observe(seconds)
}

// RecordBackendLoad records a backend module load attempt.
func (c *Collector) RecordBackendLoad() {
	if c == nil {
		return
	}
	c.backendLoads.Inc()
}

// RecordTaskStarted records a task accepted by the supervisor.
func (c *Collector) RecordTaskStarted(kind string) {
	if c == nil {
		return
	}
	c.tasksStarted.WithLabelValues(kind).Inc()
}

// TaskRunning adjusts the running gauge by delta.
func (c *Collector) TaskRunning(delta float64) {
	if c == nil {
		return
	}
	c.tasksRunning.Add(delta)
}

// RecordTaskFinished records a task reaching a terminal state.
func (c *Collector) RecordTaskFinished(kind, outcome string) {
	if c == nil {
		return
	}
	c.tasksFinished.WithLabelValues(kind, outcome).Inc()
}
