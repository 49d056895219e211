package metrics

import (
	"saas-billing/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionsTotal,
		reconciledTotal,
	)
}

var (
	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscriptions by status.",
		},
		[]string{"status"}, // 'active', 'past_due', 'cancelled', 'trialing'
	)

	reconciledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_reconciled_total",
			Help: "Subscriptions checked against the provider by the reconciler, by outcome.",
		},
		[]string{"outcome"},
	)
)

// SetSubscriptionsTotal sets every known status, zeroing the absent ones.
func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := []model.SubscriptionStatus{
		model.SubscriptionStatusActive,
		model.SubscriptionStatusPastDue,
		model.SubscriptionStatusCancelled,
		model.SubscriptionStatusTrialing,
	}
	for _, status := range statuses {
		subscriptionsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func IncReconciled(outcome string) {
	reconciledTotal.WithLabelValues(norm(outcome)).Inc()
}
