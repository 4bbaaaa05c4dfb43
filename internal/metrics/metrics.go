// Package metrics exposes Prometheus instrumentation for the playback
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	chunksReceived prometheus.Counter
	chunksPlayed   prometheus.Counter
	chunksDropped  prometheus.Counter
	chunksStale    prometheus.Counter
	decodeErrors   prometheus.Counter
	queueSize      prometheus.Gauge
	activeSources  prometheus.Gauge
	lookaheadSecs  prometheus.Gauge
}

// New creates and registers pipeline metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		chunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapless_chunks_received_total",
			Help: "Total number of audio chunks received from upstream",
		}),
		chunksPlayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapless_chunks_played_total",
			Help: "Total number of scheduled sources that completed naturally",
		}),
		chunksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapless_chunks_dropped_total",
			Help: "Total number of buffers dropped on pending-queue overflow",
		}),
		chunksStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapless_chunks_stale_total",
			Help: "Total number of chunks rejected by the transcript validator",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapless_decode_errors_total",
			Help: "Total number of chunks skipped due to decode failure",
		}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapless_queue_size",
			Help: "Unscheduled plus scheduled buffers on the timeline",
		}),
		activeSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapless_active_sources",
			Help: "Number of currently scheduled playback sources",
		}),
		lookaheadSecs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapless_buffered_lookahead_seconds",
			Help: "How far the timeline cursor runs ahead of the real-time clock",
		}),
	}

	registry.MustRegister(
		m.chunksReceived,
		m.chunksPlayed,
		m.chunksDropped,
		m.chunksStale,
		m.decodeErrors,
		m.queueSize,
		m.activeSources,
		m.lookaheadSecs,
	)

	return m
}

// IncReceived increments the received-chunk counter.
func (m *Metrics) IncReceived() { m.chunksReceived.Inc() }

// IncPlayed increments the played-source counter.
func (m *Metrics) IncPlayed() { m.chunksPlayed.Inc() }

// IncDropped increments the overflow-drop counter.
func (m *Metrics) IncDropped() { m.chunksDropped.Inc() }

// IncStale increments the validator-rejection counter.
func (m *Metrics) IncStale() { m.chunksStale.Inc() }

// IncDecodeErrors increments the decode-failure counter.
func (m *Metrics) IncDecodeErrors() { m.decodeErrors.Inc() }

// SetQueueSize sets the queue-size gauge.
func (m *Metrics) SetQueueSize(n int) { m.queueSize.Set(float64(n)) }

// SetActiveSources sets the active-source gauge.
func (m *Metrics) SetActiveSources(n int) { m.activeSources.Set(float64(n)) }

// SetLookahead sets the buffered-lookahead gauge.
func (m *Metrics) SetLookahead(seconds float64) { m.lookaheadSecs.Set(seconds) }

// Handler returns an http.Handler serving the registry. updateGauges is
// called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
