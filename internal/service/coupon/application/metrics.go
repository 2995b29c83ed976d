// internal/service/coupon/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_ledger_transitions_total",
		Help: "Number of committed coupon state transitions, by transition kind.",
	}, []string{"transition"})

	redeemConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_ledger_redeem_conflicts_total",
		Help: "Number of confirm-use calls that lost the guarded update race.",
	})

	publishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_ledger_event_publish_failures_total",
		Help: "Number of event publish failures after a committed transition.",
	}, []string{"topic"})

	expiredSweepTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_ledger_expired_coupons_total",
		Help: "Number of coupons bulk-transitioned to EXPIRED by the sweeper.",
	})
)
