// Package metrics provides Prometheus instrumentation for the Mira backend.
// It exposes gauges for connection and room counts, counters for event and
// synthesis throughput, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of active WebSocket connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mira_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	// RoomsActive tracks the current number of rooms with at least one participant.
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mira_rooms_active",
		Help: "Current number of rooms with at least one participant",
	})

	// EventsRelayed counts relayed room events, labeled by event type.
	EventsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mira_events_relayed_total",
		Help: "Total number of room events relayed",
	}, []string{"type"}) // type = "session-message", "biometric-update", ...

	// RelayLatency records room fan-out latency in seconds.
	RelayLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mira_relay_latency_seconds",
		Help:    "Room event fan-out latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})

	// SynthesisRequests counts TTS synthesis requests, labeled by endpoint
	// ("synthesize", "stream", "chat") and status ("ok" or "error").
	SynthesisRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mira_synthesis_requests_total",
		Help: "Total number of TTS synthesis requests",
	}, []string{"endpoint", "status"})

	// SynthesisLatency records end-to-end synthesis latency in seconds per endpoint.
	SynthesisLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mira_synthesis_latency_seconds",
		Help:    "TTS synthesis latency in seconds",
		Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	// AudioQueueDepth tracks the number of chunks pending in playback queues.
	AudioQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mira_audio_queue_depth",
		Help: "Audio chunks currently pending playback",
	})

	// AudioChunksDropped counts audio chunks dropped due to decode failures
	// or queue clears, labeled by reason: "decode_error" or "cleared".
	AudioChunksDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mira_audio_chunks_dropped_total",
		Help: "Total number of audio chunks dropped",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		RoomsActive,
		EventsRelayed,
		RelayLatency,
		SynthesisRequests,
		SynthesisLatency,
		AudioQueueDepth,
		AudioChunksDropped,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
