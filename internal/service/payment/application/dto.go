// internal/service/payment/application/dto.go
package application

import "time"

// ValidateCouponRequest 在支付前检查券是否可用。
type ValidateCouponRequest struct {
	Code            string  `json:"code"`
	BeneficiaryKind string  `json:"beneficiary_kind"`
	BeneficiaryID   int64   `json:"beneficiary_id"`
	Fee             float64 `json:"fee"`
}

// ValidateCouponResult 透传账本的校验结果。
type ValidateCouponResult struct {
	Valid           bool    `json:"valid"`
	Reason          string  `json:"reason,omitempty"`
	Currency        string  `json:"currency,omitempty"`
	DiscountAmount  float64 `json:"discount_amount"`
	RemainingAmount float64 `json:"remaining_amount"`
}

// RedeemCouponRequest 在外部扣款成功后核销券。
// PaymentID 是计费方返回的扣款凭证，核销必须晚于它存在。
// DiscountAmount 是扣款时实际减免的金额（来自校验阶段），
// 输掉核销竞争时按它退款。
type RedeemCouponRequest struct {
	Code           string  `json:"code"`
	CaseID         int64   `json:"case_id"`
	PaymentID      int64   `json:"payment_id"`
	PatientID      int64   `json:"patient_id"`
	UsedByUserID   int64   `json:"used_by_user_id"`
	OriginalAmount float64 `json:"original_amount"`
	DiscountAmount float64 `json:"discount_amount"`
	Currency       string  `json:"currency"`
}

// RedeemCouponResult 是核销成功的回执。
type RedeemCouponResult struct {
	CouponCode     string    `json:"coupon_code"`
	DiscountAmount float64   `json:"discount_amount"`
	ChargedAmount  float64   `json:"charged_amount"`
	RedeemedAt     time.Time `json:"redeemed_at"`
}
