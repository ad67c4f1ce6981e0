// Package metrics registers the Prometheus instruments exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Marketplace ────────────────────────────────────────────────────────────

// TasksCompleted counts tasks that filled every worker slot.
var TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "taskblitz",
	Name:      "tasks_completed_total",
	Help:      "Total tasks that reached the completed state.",
})

// EscrowLocked sums escrow amounts locked at task creation.
var EscrowLocked = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "taskblitz",
	Name:      "escrow_locked_total",
	Help:      "Total escrow value locked, in token units.",
})

// ─── Payments ───────────────────────────────────────────────────────────────

// PaymentsVerified counts pay-per-call proof verifications by outcome.
// Rejections carry the failing check as the reason label.
var PaymentsVerified = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskblitz",
	Name:      "payments_verified_total",
	Help:      "Payment proof verifications by outcome.",
}, []string{"outcome", "reason"})

// PaymentChallenges counts 402 challenges issued on metered endpoints.
var PaymentChallenges = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskblitz",
	Name:      "payment_challenges_total",
	Help:      "Total 402 payment challenges issued.",
}, []string{"endpoint"})

// ─── Webhooks ───────────────────────────────────────────────────────────────

// WebhookDeliveries counts delivery attempts by final outcome.
var WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskblitz",
	Name:      "webhook_deliveries_total",
	Help:      "Webhook delivery attempts by outcome.",
}, []string{"outcome"})

// ─── Rate limiting ──────────────────────────────────────────────────────────

// RateLimitRejections counts requests rejected by the sliding window limiter.
var RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskblitz",
	Name:      "rate_limit_rejections_total",
	Help:      "Requests rejected by the rate limiter, by window.",
}, []string{"window"})
