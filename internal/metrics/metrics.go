// Package metrics exposes the Prometheus instrumentation for the sync engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// WebhookEvents counts inbound webhook deliveries by platform and outcome.
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_webhook_events_total",
			Help: "Inbound webhook events by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)

	// QueueItems counts processed queue items by action type and outcome.
	QueueItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_queue_items_total",
			Help: "Processed sync queue items by action type and outcome.",
		},
		[]string{"action_type", "outcome"},
	)

	// QueueDepth tracks the current number of items per queue status.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskbridge_queue_depth",
			Help: "Current sync queue depth by status.",
		},
		[]string{"status"},
	)

	// Conflicts counts detected conflicts by type and field.
	Conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_conflicts_total",
			Help: "Detected sync conflicts by type and field.",
		},
		[]string{"type", "field"},
	)

	// Resolutions counts conflict resolutions by strategy and result.
	Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_conflict_resolutions_total",
			Help: "Conflict resolutions by strategy and result.",
		},
		[]string{"strategy", "result"},
	)

	// PlatformCalls counts outbound platform API calls by platform and outcome.
	PlatformCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_platform_calls_total",
			Help: "Outbound platform API calls by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)

	// BudgetDenied counts dispatches deferred because the per-platform request
	// budget was spent.
	BudgetDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_budget_denied_total",
			Help: "Dispatches deferred by the per-platform request budget.",
		},
		[]string{"platform"},
	)
)

var registerOnce sync.Once

// Register installs all collectors on the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			WebhookEvents,
			QueueItems,
			QueueDepth,
			Conflicts,
			Resolutions,
			PlatformCalls,
			BudgetDenied,
		)
	})
}
