package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by run and merge counters.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// Metrics holds Prometheus collectors for the packager.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	errorsTotal      prometheus.Counter
	transcodeRuns    *prometheus.CounterVec
	renditionSeconds *prometheus.HistogramVec
	activeTranscodes prometheus.Gauge
	chunksReceived   prometheus.Counter
	mergesTotal      *prometheus.CounterVec
	mergedBytes      prometheus.Counter
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_requests_total",
			Help: "Total number of HTTP requests received, by method and route pattern",
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		transcodeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_transcode_runs_total",
			Help: "Completed transcode runs by outcome",
		}, []string{"outcome"}),
		renditionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hls_rendition_encode_seconds",
			Help:    "Wall time of a single rendition encode",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"rendition", "outcome"}),
		activeTranscodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_active_transcodes",
			Help: "Assets currently being probed or encoded",
		}),
		chunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_chunks_received_total",
			Help: "Total number of chunks staged for reassembly",
		}),
		mergesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_chunk_merges_total",
			Help: "Chunk merge attempts by outcome",
		}, []string{"outcome"}),
		mergedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_chunk_merged_bytes_total",
			Help: "Bytes written by successful chunk merges",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.transcodeRuns,
		m.renditionSeconds,
		m.activeTranscodes,
		m.chunksReceived,
		m.mergesTotal,
		m.mergedBytes,
	)

	return m
}

// IncRequests increments the request counter for a route pattern.
func (m *Metrics) IncRequests(method, route string) {
	m.requestsTotal.WithLabelValues(method, route).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// ObserveRun records a finished transcode run.
func (m *Metrics) ObserveRun(outcome string) {
	m.transcodeRuns.WithLabelValues(outcome).Inc()
}

// ObserveRendition records how long one rendition encode took.
func (m *Metrics) ObserveRendition(rendition, outcome string, d time.Duration) {
	m.renditionSeconds.WithLabelValues(rendition, outcome).Observe(d.Seconds())
}

// SetActiveTranscodes sets the active transcodes gauge.
func (m *Metrics) SetActiveTranscodes(n int) {
	m.activeTranscodes.Set(float64(n))
}

// IncChunksReceived increments the staged chunk counter.
func (m *Metrics) IncChunksReceived() {
	m.chunksReceived.Inc()
}

// ObserveMerge records a merge attempt; size is only counted on success.
func (m *Metrics) ObserveMerge(outcome string, size int64) {
	m.mergesTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSucceeded {
		m.mergedBytes.Add(float64(size))
	}
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active transcodes).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
