// Package metrics provides Prometheus instrumentation for the direct-message
// server: live connection and presence gauges, message and relationship
// counters, and fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of open WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dm_connections_total",
		Help: "Current number of open WebSocket connections",
	})

	// OnlineUsers tracks users with at least one authenticated connection.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dm_online_users",
		Help: "Current number of users with a live connection",
	})

	// MessagesTotal counts messages, labeled by type: "saved", "delivered"
	// or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"type"})

	// EventsDropped counts events that could not be queued to a closed channel.
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dm_events_dropped_total",
		Help: "Events dropped because the target channel was closed",
	})

	// FanoutLatency records the time to enqueue one event to every live
	// channel of its recipients.
	FanoutLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dm_fanout_latency_seconds",
		Help:    "Time spent enqueuing an event to all recipients",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
	})

	// RelationshipTransitions counts committed friend transitions by action:
	// "request", "accept", "remove", "cancel", "decline".
	RelationshipTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_relationship_transitions_total",
		Help: "Committed relationship transitions",
	}, []string{"action"})

	// AuthFailures counts rejected WebSocket handshakes by reason.
	AuthFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_auth_failures_total",
		Help: "WebSocket authentication failures",
	}, []string{"reason"})

	// RateLimited counts requests rejected by a rate limit rule.
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_rate_limited_total",
		Help: "Requests rejected by rate limiting",
	}, []string{"rule"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		EventsDropped,
		FanoutLatency,
		RelationshipTransitions,
		AuthFailures,
		RateLimited,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
