package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicehub_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voicehub_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Hub metrics
	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voicehub_connections",
			Help: "Live websocket connections",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voicehub_online_users",
			Help: "Size of the shared online set at the last query",
		},
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voicehub_messages_sent_total",
			Help: "Chat messages accepted by the pipeline",
		},
	)

	CallsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicehub_calls_finished_total",
			Help: "Calls by terminal state",
		},
		[]string{"state"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicehub_events_dropped_total",
			Help: "Events not queued because of backpressure or a closed connection",
		},
		[]string{"event"},
	)

	RecordingsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voicehub_recordings_active",
			Help: "Open recording sinks",
		},
	)

	RecordingBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voicehub_recording_bytes_total",
			Help: "Bytes written to recording sinks",
		},
	)

	DependencyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicehub_dependency_errors_total",
			Help: "Store, cache, identity and sink failures",
		},
		[]string{"component"},
	)
)
