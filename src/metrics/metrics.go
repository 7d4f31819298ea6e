package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upstream Metrics
var (
	// MessagesReceived tracks frames received from the upstream feed
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "laserstream_messages_received_total",
			Help: "Total messages received from the upstream feed by type",
		},
		[]string{"type"},
	)

	// Errors tracks recoverable errors by kind (decode, transport)
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "laserstream_errors_total",
			Help: "Total errors processing upstream messages by kind",
		},
		[]string{"kind"},
	)

	// Reconnections tracks reconnect attempts by component (ingester, client)
	Reconnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "laserstream_reconnections_total",
			Help: "Total reconnection attempts",
		},
		[]string{"component"},
	)

	// IngesterState tracks the ingester state machine (0=disconnected, 1=connecting, 2=streaming, 3=stopped)
	IngesterState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "laserstream_ingester_state",
			Help: "Current ingester state (0=disconnected, 1=connecting, 2=streaming, 3=stopped)",
		},
	)

	// StaleSlotUpdates tracks slot updates rejected by the cache tie-break
	StaleSlotUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "laserstream_stale_slot_updates_total",
			Help: "Slot updates older than the cached slot",
		},
	)
)

// Broadcaster Metrics
var (
	// ClientsConnected tracks currently registered streaming clients
	ClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "laserstream_clients_connected",
			Help: "Number of WebSocket clients connected",
		},
	)

	// ClientsEvicted tracks clients removed because their mailbox was full or closed
	ClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "laserstream_clients_evicted_total",
			Help: "Clients removed during a broadcast because their mailbox was full or closed",
		},
	)

	// BroadcastsTotal tracks broadcast passes
	BroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "laserstream_broadcasts_total",
			Help: "Total broadcast passes",
		},
	)

	// MirrorDropped tracks frames the Redis mirror could not keep up with
	MirrorDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "laserstream_mirror_dropped_total",
			Help: "Frames dropped by the Redis mirror because its queue was full",
		},
	)
)
