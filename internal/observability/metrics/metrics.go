// Package metrics exposes Prometheus counters for the billing engine and HTTP surface.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_events_total",
		Help: "Stripe webhook events processed, by event type and outcome.",
	}, []string{"type", "outcome"})

	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_reconcile_total",
		Help: "Quantity reconciliation runs, by outcome.",
	}, []string{"outcome"})

	readRepairTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_read_repair_total",
		Help: "Self-heal lookups that resolved a subscription, by source.",
	}, []string{"source"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests, by route, method and status.",
	}, []string{"route", "method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
)

// ObserveWebhookEvent records the outcome of one webhook delivery.
func ObserveWebhookEvent(eventType, outcome string) {
	webhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// ObserveReconcile records the outcome of one reconciliation run.
func ObserveReconcile(outcome string) {
	reconcileTotal.WithLabelValues(outcome).Inc()
}

// ObserveReadRepair records which self-heal rung resolved a subscription.
func ObserveReadRepair(source string) {
	readRepairTotal.WithLabelValues(source).Inc()
}

// GinMiddleware records per-request counters and latency.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		method := c.Request.Method
		httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}
