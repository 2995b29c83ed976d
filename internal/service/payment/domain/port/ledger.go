// internal/service/payment/domain/port/ledger.go
package port

import (
	"context"
	"time"
)

// LedgerValidateRequest 是账本只读校验的参数。
type LedgerValidateRequest struct {
	Code            string
	BeneficiaryKind string
	BeneficiaryID   int64
	Fee             float64
}

// LedgerValidateReply 镜像账本的校验结果。
type LedgerValidateReply struct {
	Valid           bool
	Reason          string
	Currency        string
	DiscountAmount  float64
	RemainingAmount float64
}

// LedgerConfirmRequest 是核销调用的参数，在外部扣款成功之后才发出。
type LedgerConfirmRequest struct {
	Code           string
	CaseID         int64
	PaymentID      int64
	PatientID      int64
	UsedByUserID   int64
	OriginalAmount float64
}

// LedgerConfirmReply 是核销成功的回执。
type LedgerConfirmReply struct {
	CouponID       int64
	CouponCode     string
	DiscountAmount float64
	ChargedAmount  float64
	UsedAt         time.Time
}

// LedgerCouponState 是账本上一张券的当前状态，用于核销冲突时判断赢家。
type LedgerCouponState struct {
	Code          string
	Status        string
	UsedForCaseID *int64
}

// LedgerClient 是到权威账本的出站端口。实现负责服务发现、超时和
// 账本错误码到本包类型化错误的翻译：
//   - 网络失败 / 超时 / 5xx → domain.ErrLedgerUnavailable
//   - 409 ALREADY_REDEEMED  → domain.ErrCouponConflict
//   - 404 / 403             → domain.ErrCouponRejected
type LedgerClient interface {
	Validate(ctx context.Context, req *LedgerValidateRequest) (*LedgerValidateReply, error)
	ConfirmUse(ctx context.Context, req *LedgerConfirmRequest) (*LedgerConfirmReply, error)
	GetCoupon(ctx context.Context, code string) (*LedgerCouponState, error)
}
