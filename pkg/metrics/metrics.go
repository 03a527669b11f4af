// Package metrics holds the Prometheus collectors of chatsync. Each Metrics
// value owns its registry so tests and multiple servers in one process do not
// collide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	// Adapter
	CompletionsTotal       *prometheus.CounterVec
	CompletionDuration     prometheus.Histogram
	StreamDeltasTotal      prometheus.Counter
	RemoteMirrorFailures   *prometheus.CounterVec
	RemoteMirrorOperations *prometheus.CounterVec

	// Proxy
	ProxyRequestsTotal    *prometheus.CounterVec
	ProxyUpstreamDuration prometheus.Histogram

	// Store server
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		CompletionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_completions_total",
				Help: "Streamed completions by outcome (committed, empty, errored)",
			},
			[]string{"outcome"},
		),
		CompletionDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatsync_completion_duration_seconds",
				Help:    "Time from submission to the end of the completion stream",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		StreamDeltasTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_stream_deltas_total",
				Help: "Text fragments received from completion streams",
			},
		),
		RemoteMirrorFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_remote_mirror_failures_total",
				Help: "Remote mirror operations that failed after the local change was applied",
			},
			[]string{"operation"},
		),
		RemoteMirrorOperations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_remote_mirror_operations_total",
				Help: "Remote mirror operations attempted",
			},
			[]string{"operation"},
		),

		ProxyRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_proxy_requests_total",
				Help: "Proxy requests by response status code",
			},
			[]string{"status"},
		),
		ProxyUpstreamDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatsync_proxy_upstream_duration_seconds",
				Help:    "Latency until the upstream provider answered with headers",
				Buckets: prometheus.DefBuckets,
			},
		),

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_http_requests_total",
				Help: "HTTP requests served by route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatsync_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
