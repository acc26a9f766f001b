// Package metrics registers the library's Prometheus collectors. Serving the
// /metrics endpoint is left to the embedding application.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HeartbeatsTotal counts heartbeat channel messages.
	HeartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "krakenws_heartbeats_total",
		Help: "Heartbeat messages received from the server",
	})

	// ReconnectsTotal counts successful reconnections (epoch increments past
	// the first connect).
	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "krakenws_reconnects_total",
		Help: "Successful reconnections after a connection loss",
	})

	// RetriesScheduledTotal counts scheduled reconnect attempts by reason.
	RetriesScheduledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "krakenws_retries_scheduled_total",
		Help: "Reconnect attempts scheduled, labelled by transport error kind",
	}, []string{"reason"})

	// BackpressureEventsTotal counts back-pressure edges by direction.
	BackpressureEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "krakenws_backpressure_events_total",
		Help: "Backpressure detected/cleared transitions",
	}, []string{"edge"})

	// ParseFailuresTotal counts inbound messages dropped by schema validation.
	ParseFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "krakenws_parse_failures_total",
		Help: "Messages dropped by strict schema validation, labelled by kind",
	}, []string{"kind"})

	// DroppedMessagesTotal counts data-plane messages dropped on ring-full.
	DroppedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "krakenws_dropped_messages_total",
		Help: "Data-plane messages dropped because the receiver ring was full",
	}, []string{"channel"})

	// RejectionsTotal counts server rejection notices.
	RejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "krakenws_rejections_total",
		Help: "Rejection notices received from the server",
	})

	// ActiveSubscriptions tracks acknowledged subscriptions per channel.
	ActiveSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "krakenws_active_subscriptions",
		Help: "Currently active subscriptions per channel",
	}, []string{"channel"})

	// PendingRequests tracks unacknowledged subscribe/unsubscribe requests
	// per channel.
	PendingRequests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "krakenws_pending_requests",
		Help: "Requests awaiting acknowledgement per channel",
	}, []string{"channel"})
)
