// Package monitoring exposes Prometheus metrics for the gateway: tool-call
// outcomes, lock contention, registry hygiene, and startup elections.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// Tool metrics
	ToolCalls    *prometheus.CounterVec
	ToolDuration *prometheus.HistogramVec

	// Action-lock metrics
	LockAcquisitions *prometheus.CounterVec
	LockWait         prometheus.Histogram
	LockRenewals     prometheus.Counter
	LockLost         prometheus.Counter

	// Registry metrics
	RegistryCleanups prometheus.Counter
	RegistryRemoved  prometheus.Counter
	RegistryEntries  prometheus.Gauge

	// Startup metrics
	StartupElections *prometheus.CounterVec

	// Window metrics
	WindowsCreated prometheus.Counter
	WindowsClosed  prometheus.Counter

	// Transport metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	WSConnections   prometheus.Gauge
}

// New creates a metrics collector registered on reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsergate_tool_calls_total",
				Help: "Tool invocations by tool name and outcome",
			},
			[]string{"tool", "outcome"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "browsergate_tool_duration_seconds",
				Help:    "Tool execution time including lock acquisition",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		LockAcquisitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsergate_lock_acquisitions_total",
				Help: "Action-lock acquisition attempts by outcome",
			},
			[]string{"outcome"},
		),
		LockWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "browsergate_lock_wait_seconds",
				Help:    "Time spent waiting for the action lock",
				Buckets: []float64{.001, .01, .05, .25, 1, 5, 15, 30, 60},
			},
		),
		LockRenewals: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "browsergate_lock_renewals_total",
				Help: "Successful action-lock renewals",
			},
		),
		LockLost: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "browsergate_lock_lost_total",
				Help: "Handlers aborted because the lock was taken over mid-flight",
			},
		),
		RegistryCleanups: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "browsergate_registry_cleanups_total",
				Help: "Registry scan-and-clean passes",
			},
		),
		RegistryRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "browsergate_registry_removed_total",
				Help: "Orphaned or stale registry entries removed",
			},
		),
		RegistryEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "browsergate_registry_entries",
				Help: "Registered windows after the last scan",
			},
		),
		StartupElections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsergate_startup_total",
				Help: "Driver startup outcomes (resolved, failed, attach_failed)",
			},
			[]string{"path"},
		),
		WindowsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "browsergate_windows_created_total",
				Help: "Browser windows created for this process",
			},
		),
		WindowsClosed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "browsergate_windows_closed_total",
				Help: "Browser windows closed by this process",
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsergate_http_requests_total",
				Help: "HTTP requests by method, path, and status",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "browsergate_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "browsergate_ws_connections",
				Help: "Active websocket event subscribers",
			},
		),
	}
}

// ObserveTool records one tool call.
func (m *Metrics) ObserveTool(tool, outcome string, start time.Time) {
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}
