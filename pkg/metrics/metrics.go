package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeedEventsApplied counts change-feed events applied per subscription, by type (insert|update|delete).
	FeedEventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classline_feed_events_applied_total",
			Help: "Total number of change-feed events applied to subscription state",
		},
		[]string{"type"},
	)

	// FeedEventsSkipped counts change-feed events discarded as duplicates or no-ops.
	FeedEventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classline_feed_events_skipped_total",
			Help: "Total number of change-feed events skipped (duplicate delivery or no-op)",
		},
		[]string{"type"},
	)

	// MalformedMessages counts messages dropped during aggregation because of missing participants.
	MalformedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classline_malformed_messages_total",
			Help: "Total number of messages dropped during conversation aggregation",
		},
	)

	// SubscriptionResyncs counts full cold loads triggered by connects and reconnects.
	SubscriptionResyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classline_subscription_resyncs_total",
			Help: "Total number of cold loads performed by realtime subscriptions",
		},
		[]string{"reason"},
	)

	// OpenSubscriptions tracks the number of live per-user subscriptions.
	OpenSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "classline_open_subscriptions",
			Help: "Number of open realtime subscriptions",
		},
	)

	// WebsocketClients tracks the number of connected realtime websocket clients.
	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "classline_websocket_clients",
			Help: "Number of connected realtime websocket clients",
		},
	)

	// NotificationsDispatched counts dispatched notifications by type and outcome (created|duplicate).
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classline_notifications_dispatched_total",
			Help: "Total number of notifications processed by the dispatcher",
		},
		[]string{"type", "outcome"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classline_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
