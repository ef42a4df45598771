// Package metrics exports the engine's own health as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rileyhilliard/proxymon/internal/collector"
)

const namespace = "proxymon"

// Metrics holds the engine's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	overruns      *prometheus.CounterVec
	hostsFailed   *prometheus.CounterVec
	probes        *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	persisted     prometheus.Counter
	persistErrors prometheus.Counter
	pruned        prometheus.Counter
	pruneErrors   prometheus.Counter
	subscribers   prometheus.Gauge
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Completed collection cycles.",
		}, []string{"task"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds",
			Help:    "Wall time of one collection cycle.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"task"}),
		overruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycle_overruns_total",
			Help: "Cycles that took longer than their interval.",
		}, []string{"task"}),
		hostsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "hosts_failed_total",
			Help: "Hosts with no successful probe in a cycle.",
		}, []string{"task"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "probes_total",
			Help: "Probes by metric key and result.",
		}, []string{"metric", "result"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "probe_duration_seconds",
			Help:    "Latency of one probe.",
			Buckets: prometheus.DefBuckets,
		}, []string{"metric"}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "samples_persisted_total",
			Help: "Samples written to the store.",
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "persist_errors_total",
			Help: "Failed sample batch writes.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "samples_pruned_total",
			Help: "Samples removed by retention.",
		}),
		pruneErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retention_errors_total",
			Help: "Failed retention passes.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "status_subscribers",
			Help: "Connected status stream subscribers.",
		}),
	}
	m.registry.MustRegister(
		m.cycles, m.cycleDuration, m.overruns, m.hostsFailed,
		m.probes, m.probeDuration,
		m.persisted, m.persistErrors, m.pruned, m.pruneErrors,
		m.subscribers,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveProbe implements collector.ProbeObserver.
func (m *Metrics) ObserveProbe(metric string, ok bool, took time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.probes.WithLabelValues(metric, result).Inc()
	m.probeDuration.WithLabelValues(metric).Observe(took.Seconds())
}

// ObserveCycle implements scheduler.CycleObserver.
func (m *Metrics) ObserveCycle(taskID string, took time.Duration, res *collector.Result, overrun bool) {
	m.cycles.WithLabelValues(taskID).Inc()
	m.cycleDuration.WithLabelValues(taskID).Observe(took.Seconds())
	if overrun {
		m.overruns.WithLabelValues(taskID).Inc()
	}
	if res != nil && res.Failed > 0 {
		m.hostsFailed.WithLabelValues(taskID).Add(float64(res.Failed))
	}
}

// ObservePersist implements scheduler.CycleObserver.
func (m *Metrics) ObservePersist(samples int, err error) {
	if err != nil {
		m.persistErrors.Inc()
		return
	}
	m.persisted.Add(float64(samples))
}

// ObservePrune implements retention.Observer.
func (m *Metrics) ObservePrune(deleted int64, err error) {
	if err != nil {
		m.pruneErrors.Inc()
		return
	}
	m.pruned.Add(float64(deleted))
}

// SetSubscribers records the subscriber count. It matches
// broadcast.Options.OnCount.
func (m *Metrics) SetSubscribers(n int) {
	m.subscribers.Set(float64(n))
}
