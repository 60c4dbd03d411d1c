// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request and orchestrator latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	OrchestratorDuration  *prometheus.HistogramVec
	OrchestratorResponses *prometheus.CounterVec

	UploadFiles prometheus.Counter
	UploadBytes prometheus.Counter

	SnapshotCache *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docgateway_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docgateway_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docgateway_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		OrchestratorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docgateway_orchestrator_request_duration_seconds",
			Help:    "Orchestration service call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"operation"}),

		OrchestratorResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docgateway_orchestrator_responses_total",
			Help: "Total orchestration service responses by operation and status code.",
		}, []string{"operation", "status_code"}),

		UploadFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docgateway_upload_files_total",
			Help: "Files forwarded to the orchestration service.",
		}),

		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docgateway_upload_bytes_total",
			Help: "Bytes of file content forwarded to the orchestration service.",
		}),

		SnapshotCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docgateway_snapshot_cache_total",
			Help: "Snapshot cache lookups by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.OrchestratorDuration,
		m.OrchestratorResponses,
		m.UploadFiles,
		m.UploadBytes,
		m.SnapshotCache,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/api/snapshot", "/api/upload", "/healthz", "/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
