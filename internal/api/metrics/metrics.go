// Package metrics defines and registers all custom Prometheus metrics for the
// group meditation service. It is the single source of truth for metric names,
// labels, and help strings.
//
// All metrics are registered with the default Prometheus registry on package
// init via promauto and exposed by the /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meditation"

// ── Gateway metrics ───────────────────────────────────────────────────────────

// ConnectionsActive tracks the websocket connections held by this process.
var ConnectionsActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_connections_active",
		Help:      "Current number of websocket connections held by this process.",
	},
)

// MessagesTotal counts inbound client commands.
// Label:
//   - type: the command type (e.g. "join_group"), or "unknown"
var MessagesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "websocket_messages_total",
		Help:      "Total number of client commands received, by type.",
	},
	[]string{"type"},
)

// ErrorsTotal counts error replies sent to clients.
// Label:
//   - code: the error code in the reply (e.g. "validation_error")
var ErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "websocket_errors_total",
		Help:      "Total number of error replies sent to clients, by code.",
	},
	[]string{"code"},
)

// BroadcastDroppedTotal counts frames that never reached a connection.
// Label:
//   - reason: "queue_full", "closed", "publish_failed", or "encode_failed"
var BroadcastDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_dropped_total",
		Help:      "Total number of outbound frames dropped, by reason.",
	},
	[]string{"reason"},
)

// ── Session metrics ───────────────────────────────────────────────────────────

// SessionsStartedTotal counts meditation sessions started through the gateway.
// Label:
//   - type: "guided", "unguided", or "sleep"
var SessionsStartedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_started_total",
		Help:      "Total number of meditation sessions started, by type.",
	},
	[]string{"type"},
)

// SessionsEndedTotal counts meditation sessions ended through the gateway.
// Label:
//   - completed: "true" or "false"
var SessionsEndedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_ended_total",
		Help:      "Total number of meditation sessions ended, by completion.",
	},
	[]string{"completed"},
)

// ── Fan-out metrics ───────────────────────────────────────────────────────────

// FanoutMessagesTotal counts cross-process messages.
// Labels:
//   - direction: "out" or "in"
//   - result: "ok", "error", or "self" (own message ignored on receipt)
var FanoutMessagesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fanout_messages_total",
		Help:      "Total number of cross-process fan-out messages, by direction and result.",
	},
	[]string{"direction", "result"},
)

// FanoutQueueDepth tracks the number of received messages waiting in each delivery worker.
// Label:
//   - worker_id: numeric worker index (e.g. "0", "1", …)
var FanoutQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fanout_queue_depth",
		Help:      "Current number of fan-out messages pending in each delivery worker channel.",
	},
	[]string{"worker_id"},
)

// ── Directory metrics ─────────────────────────────────────────────────────────

// DirectoryReapedTotal counts connections removed because their process stopped heartbeating.
var DirectoryReapedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "directory_reaped_total",
		Help:      "Total number of stale connections removed from the membership directory.",
	},
)
