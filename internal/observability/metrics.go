package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocketConnections is the gauge of live chat sockets.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "yakka_websocket_connections",
		Help: "Number of live chat websocket connections",
	})

	// WebSocketEventsTotal counts inbound socket events by name.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yakka_websocket_events_total",
		Help: "Inbound websocket events by event name",
	}, []string{"event"})

	// HandshakeRejections counts rejected socket handshakes by reason.
	HandshakeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yakka_handshake_rejections_total",
		Help: "Rejected chat handshakes by reason",
	}, []string{"reason"})

	// MessagesRelayed counts persisted and relayed messages by type.
	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yakka_messages_relayed_total",
		Help: "Chat messages persisted and relayed by type",
	}, []string{"type"})

	// RelayFailures counts stored messages whose live relay failed.
	RelayFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yakka_relay_failures_total",
		Help: "Persisted messages that could not be relayed to the room",
	})

	// WebSocketBackpressureDrops counts frames dropped because a client send buffer was full.
	WebSocketBackpressureDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yakka_websocket_backpressure_drops_total",
		Help: "Websocket frames dropped due to a full send buffer",
	})

	// SweepRuns counts moderation sweep cycles by outcome.
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yakka_moderation_sweep_runs_total",
		Help: "Moderation sweep cycles by outcome",
	}, []string{"outcome"})

	// SweepDuration records how long a sweep cycle takes.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "yakka_moderation_sweep_duration_seconds",
		Help:    "Moderation sweep cycle duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ModerationOutcomes counts scanned, flagged, failed and banned items.
	ModerationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yakka_moderation_outcomes_total",
		Help: "Moderation sweep results by kind",
	}, []string{"kind"})

	// PushFailures counts push notifications that could not be delivered.
	PushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yakka_push_failures_total",
		Help: "Push notifications that failed to send",
	})
)
