// internal/service/payment/domain/port/refund.go
package port

import "context"

// RefundRequest 是折扣补偿请求：外部扣款已经按折扣价成功，
// 但核销输掉了竞争，需要把多收的折扣额退还用户。
type RefundRequest struct {
	CaseID     int64   `json:"caseId"`
	PaymentID  int64   `json:"paymentId"`
	PatientID  int64   `json:"patientId"`
	CouponCode string  `json:"couponCode"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	Reason     string  `json:"reason"`
}

// RefundRequester 发起异步退款。实现发布到退款主题，
// 由计费方消费执行；协调器不等待退款完成。
type RefundRequester interface {
	RequestRefund(ctx context.Context, req *RefundRequest) error
}
