// internal/service/payment/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	redemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_coupon_redemptions_total",
		Help: "Coupon redemption attempts by outcome.",
	}, []string{"outcome"})

	refundsRequestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_coupon_refunds_requested_total",
		Help: "Compensation refunds requested after losing the redeem race.",
	})
)
