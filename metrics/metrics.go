package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PayoutsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_created_total",
			Help: "Number of payouts created, by origin",
		},
		[]string{"origin"},
	)

	PayoutTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_transitions_total",
			Help: "Number of committed payout status transitions",
		},
		[]string{"from", "to"},
	)

	RejectedTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_transitions_rejected_total",
			Help: "Number of payout transitions rejected as conflicts",
		},
		[]string{"event"},
	)

	AuditWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Number of audit entries dropped after exhausting retries",
		},
		[]string{"action"},
	)

	AuditWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_write_duration_seconds",
			Help:    "Time taken to append one audit entry, retries included",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register adds every collector to reg. Call once at startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		PayoutsCreated,
		PayoutTransitions,
		RejectedTransitions,
		AuditWriteFailures,
		AuditWriteDuration,
	)
}
