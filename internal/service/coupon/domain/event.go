// internal/service/coupon/domain/event.go
package domain

import "time"

// 每种状态迁移对应一个独立的主题。
// 事件在账本写入提交之后发送，发送失败只记日志、不回滚、不同步重试：
// 这是刻意选择的 at-least-once，消费端靠幂等应用保证正确性。
const (
	TopicCouponDistributed = "coupon.distributed"
	TopicCouponUsed        = "coupon.used"
	TopicCouponCancelled   = "coupon.cancelled"
	TopicCouponExpired     = "coupon.expired"
	TopicCouponNotices     = "coupon.notifications"
)

// 事件类型标识，消费端据此分发。
const (
	EventTypeDistributed   = "COUPON_DISTRIBUTED"
	EventTypeUsed          = "COUPON_USED"
	EventTypeCancelled     = "COUPON_CANCELLED"
	EventTypeExpired       = "COUPON_EXPIRED"
	EventTypeExpiryWarning = "COUPON_EXPIRY_WARNING"
)

// CouponDistributedEvent 在券发放后发布。
type CouponDistributedEvent struct {
	EventID         string          `json:"eventId"`
	EventType       string          `json:"eventType"`
	CouponID        int64           `json:"couponId"`
	CouponCode      string          `json:"couponCode"`
	BeneficiaryKind BeneficiaryKind `json:"beneficiaryKind"`
	BeneficiaryID   int64           `json:"beneficiaryId"`
	DiscountType    DiscountType    `json:"discountType"`
	DiscountValue   float64         `json:"discountValue"`
	MaxDiscount     *float64        `json:"maxDiscount,omitempty"`
	Currency        string          `json:"currency"`
	ExpiresAt       time.Time       `json:"expiresAt"`
	BatchID         *int64          `json:"batchId,omitempty"`
	DistributedBy   int64           `json:"distributedBy"`
	Timestamp       time.Time       `json:"timestamp"`
}

// CouponUsedEvent 在核销成功后发布。
type CouponUsedEvent struct {
	EventID          string          `json:"eventId"`
	EventType        string          `json:"eventType"`
	CouponID         int64           `json:"couponId"`
	CouponCode       string          `json:"couponCode"`
	BeneficiaryKind  BeneficiaryKind `json:"beneficiaryKind"`
	BeneficiaryID    int64           `json:"beneficiaryId"`
	PatientID        int64           `json:"patientId"`
	CaseID           int64           `json:"caseId"`
	PaymentID        int64           `json:"paymentId"`
	OriginalAmount   float64         `json:"originalAmount"`
	DiscountAmount   float64         `json:"discountAmount"`
	ChargedAmount    float64         `json:"chargedAmount"`
	UsedAt           time.Time       `json:"usedAt"`
	RedeemedByUserID int64           `json:"redeemedByUserId"`
	Timestamp        time.Time       `json:"timestamp"`
}

// CouponCancelledEvent 在券作废后发布。
type CouponCancelledEvent struct {
	EventID         string          `json:"eventId"`
	EventType       string          `json:"eventType"`
	CouponID        int64           `json:"couponId"`
	CouponCode      string          `json:"couponCode"`
	BeneficiaryKind BeneficiaryKind `json:"beneficiaryKind"`
	BeneficiaryID   int64           `json:"beneficiaryId"`
	Reason          string          `json:"reason"`
	CancelledBy     int64           `json:"cancelledBy"`
	CancelledAt     time.Time       `json:"cancelledAt"`
	Timestamp       time.Time       `json:"timestamp"`
}

// CouponsExpiredEvent 按受益人分组发布：批量过期扫描一次可能迁移大量券，
// 按组发送把事件量约束在受益人数量级，而不是券数量级。
type CouponsExpiredEvent struct {
	EventID         string          `json:"eventId"`
	EventType       string          `json:"eventType"`
	CouponIDs       []int64         `json:"couponIds"`
	CouponCodes     []string        `json:"couponCodes"`
	BeneficiaryKind BeneficiaryKind `json:"beneficiaryKind"`
	BeneficiaryID   int64           `json:"beneficiaryId"`
	ExpiredAt       time.Time       `json:"expiredAt"`
	Timestamp       time.Time       `json:"timestamp"`
}

// ExpiryWarningEvent 是"即将过期"提醒，只读扫描产生，不伴随任何状态迁移。
type ExpiryWarningEvent struct {
	EventID         string          `json:"eventId"`
	EventType       string          `json:"eventType"`
	BeneficiaryKind BeneficiaryKind `json:"beneficiaryKind"`
	BeneficiaryID   int64           `json:"beneficiaryId"`
	CouponCodes     []string        `json:"couponCodes"`
	ExpiresAt       []time.Time     `json:"expiresAt"`
	Timestamp       time.Time       `json:"timestamp"`
}
