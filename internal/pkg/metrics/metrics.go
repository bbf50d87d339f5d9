// Package metrics exposes the engine's prometheus counters and gauges.
// Mounted on a bare net/http server rather than a web framework, since the
// engine has no other HTTP surface besides health and metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaybot",
		Name:      "sends_total",
		Help:      "Outbound sends attempted by the worker pool, by result.",
	}, []string{"result"})

	DedupHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relaybot",
		Name:      "dedup_hits_total",
		Help:      "Inbound messages dropped as duplicates.",
	})

	CircuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaybot",
		Name:      "circuit_breaker_trips_total",
		Help:      "Circuit breaker open transitions, by scope (chat, global).",
	}, []string{"scope"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relaybot",
		Name:      "worker_queue_depth",
		Help:      "Pending send tasks per destination lane.",
	}, []string{"dest_chat_id"})

	PaywallBlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relaybot",
		Name:      "paywall_blocks_total",
		Help:      "Outbound sends withheld by the paywall gate.",
	})

	RetentionPrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relaybot",
		Name:      "retention_pruned_total",
		Help:      "Send-log rows deleted by the retention sweeper.",
	})
)

func init() {
	prometheus.MustRegister(SendsTotal, DedupHitsTotal, CircuitBreakerTrips,
		QueueDepth, PaywallBlocksTotal, RetentionPrunedTotal)
}
