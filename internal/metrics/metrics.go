// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks the number of live WebSocket sessions.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loqui_connections_active",
		Help: "Number of currently open WebSocket sessions.",
	})

	// MessagesStored counts messages durably persisted.
	MessagesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loqui_messages_stored_total",
		Help: "Total messages persisted to the message store.",
	})

	// MessagesDelivered counts messages pushed to a live receiver connection.
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loqui_messages_delivered_total",
		Help: "Total messages pushed to a live receiver connection.",
	})

	// DeliveryDropped counts pushes skipped because the receiver was
	// unreachable; the stored record remains the durability guarantee.
	DeliveryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loqui_delivery_dropped_total",
		Help: "Total live pushes skipped because the receiver had no usable connection.",
	})

	// PresenceBroadcasts counts online/offline fanouts.
	PresenceBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loqui_presence_broadcasts_total",
		Help: "Total presence change events broadcast to all sessions.",
	})
)
