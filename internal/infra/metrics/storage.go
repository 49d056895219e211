package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		cacheRequestsTotal,
		optimisticConflictsTotal,
		dbPoolStats,
	)
}

var (
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Tracks cache hits and misses for various caches.",
		},
		[]string{"cache", "result"}, // e.g., cache="plan", result="hit"
	)

	optimisticConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimistic_retries_total",
			Help: "Version-checked writes that lost to a concurrent writer and were retried.",
		},
		[]string{"op"},
	)

	dbPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_stats",
			Help: "Current state of the database connection pool.",
		},
		[]string{"state"}, // 'total', 'idle', 'in_use'
	)
)

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}

func IncOptimisticConflict(op string) {
	optimisticConflictsTotal.WithLabelValues(norm(op)).Inc()
}

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}
