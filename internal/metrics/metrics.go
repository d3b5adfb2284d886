package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts payment webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchforge",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total payment webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks payment webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pitchforge",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Payment webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// SweepRunsTotal counts reconciliation sweeps by outcome.
	SweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchforge",
		Subsystem: "billing",
		Name:      "sweep_runs_total",
		Help:      "Reconciliation sweep runs by outcome.",
	}, []string{"outcome"})

	// SweepActionsTotal counts side effects performed by the sweep.
	SweepActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchforge",
		Subsystem: "billing",
		Name:      "sweep_actions_total",
		Help:      "Downgrades, reminders and purged usage rows performed by the sweep.",
	}, []string{"action"})

	// UsageConsumeTotal counts credit consumption attempts by outcome.
	UsageConsumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchforge",
		Subsystem: "usage",
		Name:      "consume_total",
		Help:      "Generation credit consumption attempts by plan and outcome.",
	}, []string{"plan", "outcome"})

	// EntitlementRefreshTotal counts provider refreshes on the status read path.
	EntitlementRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchforge",
		Subsystem: "billing",
		Name:      "entitlement_refresh_total",
		Help:      "Provider refreshes on the entitlement read path by outcome.",
	}, []string{"outcome"})
)
