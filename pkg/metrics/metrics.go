// Package metrics provides Prometheus metrics for the lifecycle engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesQueuedTotal tracks messages created by rule evaluation or manual sends
	MessagesQueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "rules",
			Name:      "messages_queued_total",
			Help:      "Total number of scheduled messages created",
		},
		[]string{"channel", "source"},
	)

	// RuleSkipsTotal tracks customers a rule passed over, by reason
	RuleSkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "rules",
			Name:      "skips_total",
			Help:      "Total number of rule/customer pairs skipped by reason",
		},
		[]string{"reason"},
	)

	// MessagesDispatchedTotal tracks dispatch outcomes
	MessagesDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "scheduler",
			Name:      "messages_dispatched_total",
			Help:      "Total number of dispatched messages by channel and status",
		},
		[]string{"channel", "status"},
	)

	// SchedulerCycleDuration tracks the duration of a claim and dispatch cycle
	SchedulerCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lifecycle",
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of scheduler cycles in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// SchedulerRaceLost tracks claims lost to another instance
	SchedulerRaceLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "scheduler",
			Name:      "claims_lost_total",
			Help:      "Total number of claims lost to a concurrent scheduler",
		},
	)

	// SchedulerStaleRecovered tracks processing messages failed by stale recovery
	SchedulerStaleRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "scheduler",
			Name:      "stale_recovered_total",
			Help:      "Total number of interrupted dispatches marked failed",
		},
	)

	// ProviderRequestsTotal tracks outbound provider calls
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of provider send requests by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderRequestDuration tracks provider call duration
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lifecycle",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Duration of provider send requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	// ProviderHealthy reports the health of each provider channel
	ProviderHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lifecycle",
			Subsystem: "provider",
			Name:      "healthy",
			Help:      "1 when the channel has no active error burst, 0 otherwise",
		},
		[]string{"restaurant_id", "channel"},
	)

	// WebhookEventsTotal tracks inbound provider callbacks by result
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "webhooks",
			Name:      "events_total",
			Help:      "Total number of provider webhook events by result",
		},
		[]string{"provider", "event_type", "result"},
	)

	// WebhookForwardsTotal tracks outbound webhook forwards
	WebhookForwardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "webhooks",
			Name:      "forwards_total",
			Help:      "Total number of forwarded webhook events by status",
		},
		[]string{"status"},
	)

	// AnalyticsRefreshDuration tracks refreshAnalytics runs
	AnalyticsRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lifecycle",
			Subsystem: "analytics",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of analytics refreshes in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// CustomersBySegment tracks the segment distribution of the last refresh
	CustomersBySegment = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lifecycle",
			Subsystem: "analytics",
			Name:      "customers",
			Help:      "Customers per segment after the latest refresh",
		},
		[]string{"restaurant_id", "segment"},
	)

	// RateLimitHits tracks sends deferred by the send throttle
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "ratelimit",
			Name:      "hits_total",
			Help:      "Total number of sends deferred by the throttle",
		},
		[]string{"channel"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lifecycle",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)
)

// RecordProviderRequest records a provider send
func RecordProviderRequest(provider, outcome string, durationSeconds float64) {
	ProviderRequestsTotal.WithLabelValues(provider, outcome).Inc()
	ProviderRequestDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordDispatch records the final status of a dispatched message
func RecordDispatch(channel, status string) {
	MessagesDispatchedTotal.WithLabelValues(channel, status).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}

// RecordWebhookEvent records an inbound provider callback
func RecordWebhookEvent(provider, eventType, result string) {
	WebhookEventsTotal.WithLabelValues(provider, eventType, result).Inc()
}
