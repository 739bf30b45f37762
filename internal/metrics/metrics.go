// Package metrics exposes Prometheus collectors for the chat server and the
// bridge. Collectors are registered with the default registry via promauto;
// the /metrics endpoint is mounted by whichever binary enables it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsAccepted counts TCP connections accepted by the chat listener.
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_connections_accepted_total",
		Help: "Total TCP connections accepted by the chat server",
	})

	// ActiveSessions tracks sessions that completed the handshake and are
	// currently registered.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_sessions",
		Help: "Currently registered chat sessions",
	})

	// ActiveRooms tracks the number of rooms currently in the registry,
	// seeded rooms included.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_rooms",
		Help: "Rooms currently present in the room registry",
	})

	// MessagesBroadcast counts room broadcasts initiated, one per message
	// regardless of member count.
	MessagesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_broadcast_total",
		Help: "Room broadcasts initiated",
	})

	// BroadcastDeliveries counts individual sends attempted during broadcast
	// fan-out, labeled by outcome.
	BroadcastDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_broadcast_deliveries_total",
		Help: "Per-member delivery attempts during broadcast fan-out",
	}, []string{"outcome"})

	// DeadSessionsSwept counts sessions removed after a failed send marked
	// them not alive.
	DeadSessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_dead_sessions_swept_total",
		Help: "Sessions swept from the registry after a failed send",
	})

	// ProtocolErrors counts connections aborted for framing violations.
	ProtocolErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_protocol_errors_total",
		Help: "Connections aborted due to framing protocol violations",
	})

	// BridgeSessions tracks WebSocket bridge sessions currently relaying.
	BridgeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_active_sessions",
		Help: "WebSocket bridge sessions currently relaying",
	})

	// BridgeMessagesRelayed counts messages relayed by the bridge, labeled
	// by direction ("tcp_to_ws" or "ws_to_tcp").
	BridgeMessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_messages_relayed_total",
		Help: "Messages relayed across the bridge by direction",
	}, []string{"direction"})
)

// Delivery outcome label values.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)
