package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Call flow
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxdesk_webhook_events_total",
		Help: "Webhook deliveries processed, by event type and outcome",
	}, []string{"event_type", "outcome"})

	DuplicateDeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxdesk_duplicate_deliveries_total",
		Help: "Webhook redeliveries acknowledged without side effects",
	})

	RecoveryPromptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxdesk_recovery_prompts_total",
		Help: "Re-prompts spoken after unusable speech recognition",
	}, []string{"kind"})

	ResponseLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxdesk_response_generation_seconds",
		Help:    "Latency of the downstream response generator",
		Buckets: prometheus.DefBuckets,
	})

	CallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxdesk_call_duration_seconds",
		Help:    "Duration of finished calls",
		Buckets: []float64{15, 30, 60, 120, 300, 600, 1200},
	})

	// Infrastructure
	ProviderActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxdesk_provider_actions_total",
		Help: "Call control actions sent to the telephony provider",
	}, []string{"action", "status"})

	CompletedCallsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxdesk_completed_calls_consumed_total",
		Help: "CallCompleted messages consumed from the queue",
	})
)
