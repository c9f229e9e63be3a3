package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agrow",
		Subsystem: "broker",
		Name:      "session_state",
		Help:      "Current session state (0=disconnected 1=connecting 2=connected 3=closing 4=reconnecting).",
	}, []string{"client_id"})

	reconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agrow",
		Subsystem: "broker",
		Name:      "reconnects_scheduled_total",
		Help:      "Reconnect attempts scheduled after a failed connect or a dropped session.",
	}, []string{"client_id"})

	publishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agrow",
		Subsystem: "broker",
		Name:      "publish_failures_total",
		Help:      "Publishes refused because the session was not connected.",
	}, []string{"client_id"})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agrow",
		Subsystem: "broker",
		Name:      "messages_received_total",
		Help:      "Inbound messages dispatched to handlers.",
	}, []string{"client_id"})
)
