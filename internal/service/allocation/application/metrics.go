// internal/service/allocation/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_replica_events_applied_total",
		Help: "Ledger events applied to the local replica, by event kind.",
	}, []string{"kind"})

	eventsDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_replica_events_duplicate_total",
		Help: "Events skipped by the dedup layer.",
	})
)
