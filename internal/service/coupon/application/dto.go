// internal/service/coupon/application/dto.go
package application

import (
	"time"

	"caremesh/internal/service/coupon/domain"
)

// CreateCouponRequest 创建单张券。受益人可以为空（池中未分配的券）。
type CreateCouponRequest struct {
	DiscountType    domain.DiscountType `json:"discount_type"`
	DiscountValue   float64             `json:"discount_value"`
	MaxDiscount     *float64            `json:"max_discount,omitempty"`
	Currency        string              `json:"currency"`
	BeneficiaryKind domain.BeneficiaryKind `json:"beneficiary_kind,omitempty"`
	BeneficiaryID   int64               `json:"beneficiary_id,omitempty"`
	ExpiresAt       time.Time           `json:"expires_at"`
	CreatedBy       int64               `json:"created_by"`
}

// CreateBatchRequest 创建一个批次并物化成员券。
type CreateBatchRequest struct {
	Count           int                 `json:"count"`
	DiscountType    domain.DiscountType `json:"discount_type"`
	DiscountValue   float64             `json:"discount_value"`
	MaxDiscount     *float64            `json:"max_discount,omitempty"`
	Currency        string              `json:"currency"`
	ExpiryDays      int                 `json:"expiry_days"`
	EligibilityRule string              `json:"eligibility_rule,omitempty"`
	BeneficiaryKind domain.BeneficiaryKind `json:"beneficiary_kind,omitempty"`
	BeneficiaryID   int64               `json:"beneficiary_id,omitempty"`
	CreatedBy       int64               `json:"created_by"`
}

// CreateBatchResponse 返回批次信息和生成的券码。
type CreateBatchResponse struct {
	BatchID     int64    `json:"batch_id"`
	BatchCode   string   `json:"batch_code"`
	CouponCodes []string `json:"coupon_codes"`
}

// DistributeRequest 把券发放给受益人。
type DistributeRequest struct {
	CouponID        int64                  `json:"coupon_id"`
	BeneficiaryKind domain.BeneficiaryKind `json:"beneficiary_kind"`
	BeneficiaryID   int64                  `json:"beneficiary_id"`
	DistributedBy   int64                  `json:"distributed_by"`
}

// DistributeBatchRequest 发放整个批次。受益人为空时沿用批次上预设的受益人。
type DistributeBatchRequest struct {
	BatchID         int64                  `json:"batch_id"`
	BeneficiaryKind domain.BeneficiaryKind `json:"beneficiary_kind,omitempty"`
	BeneficiaryID   int64                  `json:"beneficiary_id,omitempty"`
	DistributedBy   int64                  `json:"distributed_by"`
}

// ValidateRequest 只读校验一张券能否用于某笔费用。
type ValidateRequest struct {
	Code            string                 `json:"code"`
	BeneficiaryKind domain.BeneficiaryKind `json:"beneficiary_kind"`
	BeneficiaryID   int64                  `json:"beneficiary_id"`
	Fee             float64                `json:"fee"`
}

// 校验失败的类型化原因，协调方要据此向用户展示具体错误。
const (
	ReasonNotFound            = "NOT_FOUND"
	ReasonNotDistributed      = "NOT_DISTRIBUTED"
	ReasonExpired             = "EXPIRED"
	ReasonBeneficiaryMismatch = "BENEFICIARY_MISMATCH"
	ReasonNotEligible         = "NOT_ELIGIBLE"
)

// ValidationResult 是校验的结构化结果。Valid=false 时 Reason 必填。
type ValidationResult struct {
	Valid           bool    `json:"valid"`
	Reason          string  `json:"reason,omitempty"`
	CouponID        int64   `json:"coupon_id,omitempty"`
	CouponCode      string  `json:"coupon_code,omitempty"`
	Currency        string  `json:"currency,omitempty"`
	DiscountAmount  float64 `json:"discount_amount"`
	RemainingAmount float64 `json:"remaining_amount"`
}

// ConfirmUseRequest 核销请求。OriginalAmount 用于账本侧重算折扣，
// 保证事件里的金额和校验阶段使用同一公式。
type ConfirmUseRequest struct {
	Code           string  `json:"code"`
	CaseID         int64   `json:"case_id"`
	PaymentID      int64   `json:"payment_id"`
	PatientID      int64   `json:"patient_id"`
	UsedByUserID   int64   `json:"used_by_user_id"`
	OriginalAmount float64 `json:"original_amount"`
}

// ConfirmUseResult 核销成功的回执。
type ConfirmUseResult struct {
	CouponID       int64     `json:"coupon_id"`
	CouponCode     string    `json:"coupon_code"`
	DiscountAmount float64   `json:"discount_amount"`
	ChargedAmount  float64   `json:"charged_amount"`
	UsedAt         time.Time `json:"used_at"`
}

// CancelRequest 作废一张券。
type CancelRequest struct {
	CouponID    int64  `json:"coupon_id"`
	Reason      string `json:"reason"`
	CancelledBy int64  `json:"cancelled_by"`
}

// CancelBatchRequest 作废整个批次里仍可作废的券。
type CancelBatchRequest struct {
	BatchID     int64  `json:"batch_id"`
	Reason      string `json:"reason"`
	CancelledBy int64  `json:"cancelled_by"`
}
