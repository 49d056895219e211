package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		webhookEventsTotal,
		webhookDuration,
		usageTrackedTotal,
		providerCallsTotal,
		providerLatency,
	)
}

var (
	// outcome: applied|noop|stale|duplicate|ignored|failed|unauthorized
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound provider webhook deliveries by event type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	webhookDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_seconds",
			Help:    "Time spent verifying and applying one webhook delivery.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// outcome: ok|limit_exceeded|rate_limited|error
	usageTrackedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_tracked_total",
			Help: "Usage tracking attempts by feature and outcome.",
		},
		[]string{"feature", "outcome"},
	)

	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Outbound payment provider calls by operation and success.",
		},
		[]string{"op", "success"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_seconds",
			Help:    "Payment provider call latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op"},
	)
)

func IncWebhookEvent(eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	webhookEventsTotal.WithLabelValues(norm(eventType), norm(outcome)).Inc()
}

func ObserveWebhook(d time.Duration) {
	webhookDuration.Observe(d.Seconds())
}

func IncUsageTracked(feature, outcome string) {
	usageTrackedTotal.WithLabelValues(norm(feature), norm(outcome)).Inc()
}

func ObserveProviderCall(op string, started time.Time, err error) {
	providerCallsTotal.WithLabelValues(norm(op), strconv.FormatBool(err == nil)).Inc()
	providerLatency.WithLabelValues(norm(op)).Observe(time.Since(started).Seconds())
}
