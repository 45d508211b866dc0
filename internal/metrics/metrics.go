// Package metrics exposes Prometheus counters for turns, capability calls
// and session eviction.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	turns     *prometheus.CounterVec
	toolCalls *prometheus.CounterVec
	toolTime  *prometheus.HistogramVec
	evicted   prometheus.Counter
	queued    prometheus.Gauge
}

// New creates a Metrics set on its own registry, with Go runtime and
// process collectors included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskmate_turns_total",
			Help: "User turns handled, by outcome.",
		}, []string{"outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskmate_tool_calls_total",
			Help: "Capability invocations, by capability and result kind.",
		}, []string{"capability", "result"}),
		toolTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deskmate_tool_call_seconds",
			Help:    "Capability latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"capability"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskmate_sessions_evicted_total",
			Help: "Idle sessions dropped by the eviction job.",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deskmate_queue_depth",
			Help: "Turns waiting in the per-user lanes.",
		}),
	}
	m.registry.MustRegister(
		m.turns, m.toolCalls, m.toolTime, m.evicted, m.queued,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// The recording methods are safe on a nil *Metrics so callers can run
// without metrics.

func (m *Metrics) Turn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

// ToolCall records one capability call. result is "ok" or a failure kind.
func (m *Metrics) ToolCall(capability, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(capability, result).Inc()
	m.toolTime.WithLabelValues(capability).Observe(elapsed.Seconds())
}

func (m *Metrics) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evicted.Add(float64(n))
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(n))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
