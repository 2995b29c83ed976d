// internal/service/payment/domain/redemption.go
package domain

import (
	"errors"
	"time"
)

var (
	// ErrLedgerUnavailable 表示账本不可达或超时。可重试：
	// 校验阶段直接重试，核销阶段靠账本守卫的幂等语义保证重试安全。
	ErrLedgerUnavailable = errors.New("coupon ledger is unavailable")

	// ErrCouponConflict 表示核销输掉了守卫竞争且不是本单自己赢的。
	// 这是需要补偿退款的失败，必须与校验类失败区分。
	ErrCouponConflict = errors.New("coupon was redeemed by a concurrent payment")

	// ErrCouponRejected 表示账本在核销时拒绝了这张券（过期/作废/不存在）。
	ErrCouponRejected = errors.New("coupon was rejected by the ledger")

	// ErrDuplicateRedemption 表示同一问诊已经存在核销流水（唯一键冲突）。
	ErrDuplicateRedemption = errors.New("redemption already recorded for this case")

	ErrRecordNotFound = errors.New("redemption record not found")
)

// RedemptionRecord 是一条不可变的核销流水。case_id 唯一：
// 一次问诊至多核销一张券，重复写入在存储层被唯一键挡掉。
type RedemptionRecord struct {
	ID             int64
	CaseID         int64
	PaymentID      int64
	PatientID      int64
	CouponCode     string
	OriginalAmount float64
	DiscountAmount float64
	ChargedAmount  float64
	Currency       string
	RedeemedBy     int64
	RedeemedAt     time.Time
	CreatedAt      time.Time
}
