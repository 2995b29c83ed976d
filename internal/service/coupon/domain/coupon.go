// internal/service/coupon/domain/coupon.go
package domain

import (
	"errors"
	"time"
)

// Status 定义了优惠券的生命周期状态。
// CREATED 和 DISTRIBUTED 是可变状态，USED / EXPIRED / CANCELLED 互斥且均为终态。
type Status string

const (
	StatusCreated     Status = "CREATED"     // 已创建，尚未发放
	StatusDistributed Status = "DISTRIBUTED" // 已发放给受益人，可以核销
	StatusUsed        Status = "USED"        // 已核销（终态）
	StatusExpired     Status = "EXPIRED"     // 已过期（终态）
	StatusCancelled   Status = "CANCELLED"   // 已作废（终态）
)

// BeneficiaryKind 标识受益人的类型。
type BeneficiaryKind string

const (
	BeneficiarySupervisor BeneficiaryKind = "SUPERVISOR"
	BeneficiaryPatient    BeneficiaryKind = "PATIENT"
)

// Beneficiary 是 (类型, ID) 二元组，标识一张券归谁使用。
// 建模为带判别字段的值对象，而不是继承体系。
type Beneficiary struct {
	Kind BeneficiaryKind
	ID   int64
}

// Equals 判断两个受益人引用是否相同。
func (b Beneficiary) Equals(other Beneficiary) bool {
	return b.Kind == other.Kind && b.ID == other.ID
}

// DiscountType 定义了折扣的计算方式。
type DiscountType string

const (
	DiscountPercentage   DiscountType = "PERCENTAGE"
	DiscountFixedAmount  DiscountType = "FIXED_AMOUNT"
	DiscountFullCoverage DiscountType = "FULL_COVERAGE"
)

// Discount 是折扣描述符：类型 + 数值 + 可选的封顶金额。
type Discount struct {
	Type      DiscountType
	Value     float64
	MaxAmount *float64 // 仅对 PERCENTAGE 有意义；nil 表示不封顶
	Currency  string
}

// AmountFor 计算对给定费用的折扣金额。
// 校验和核销使用同一套公式；非正的费用返回零折扣而不是错误。
func (d Discount) AmountFor(fee float64) float64 {
	if fee <= 0 {
		return 0
	}
	switch d.Type {
	case DiscountPercentage:
		amount := fee * d.Value / 100
		if d.MaxAmount != nil && amount > *d.MaxAmount {
			amount = *d.MaxAmount
		}
		if amount > fee {
			amount = fee
		}
		return amount
	case DiscountFixedAmount:
		if d.Value > fee {
			return fee
		}
		return d.Value
	case DiscountFullCoverage:
		return fee
	}
	return 0
}

// 领域错误。账本侧的守卫失败必须以类型化错误返回，
// 协调方要依据具体错误分支处理（比如 AlreadyRedeemed 要触发退款补偿）。
var (
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrInvalidState        = errors.New("transition not allowed from current state")
	ErrCouponExpired       = errors.New("coupon has expired")
	ErrBeneficiaryMismatch = errors.New("coupon does not belong to this beneficiary")
	ErrAlreadyRedeemed     = errors.New("coupon already used, expired or cancelled")
	ErrCouponNotEligible   = errors.New("coupon eligibility rule not satisfied")
	ErrBatchNotFound       = errors.New("coupon batch not found")
)

// Coupon 是优惠券聚合根，账本是它唯一的权威存储。
type Coupon struct {
	ID       int64
	Code     string // 全局唯一，创建后不可变
	Discount Discount

	// Beneficiary 为 nil 表示池中未分配的券；一经发放不可改派，
	// 改派只能走 作废 + 重新签发。
	Beneficiary *Beneficiary
	BatchID     *int64

	Status    Status
	ExpiresAt time.Time

	CreatedAt time.Time
	CreatedBy int64

	DistributedAt *time.Time
	DistributedBy *int64

	// 不变式：下面四个字段非空 当且仅当 Status == USED。
	UsedAt           *time.Time
	UsedForCaseID    *int64
	UsedForPaymentID *int64
	UsedByUserID     *int64

	CancelledAt  *time.Time
	CancelledBy  *int64
	CancelReason string
}

// Distribute 把券发放给受益人。只允许从 CREATED 状态发放。
func (c *Coupon) Distribute(b Beneficiary, distributedBy int64, at time.Time) error {
	if c.Status != StatusCreated {
		return ErrInvalidState
	}
	c.Beneficiary = &b
	c.Status = StatusDistributed
	c.DistributedAt = &at
	c.DistributedBy = &distributedBy
	return nil
}

// CheckUsable 是只读校验：不改变任何状态，调用方可以反复调用
// （例如重新渲染价格时），不会消耗券。
func (c *Coupon) CheckUsable(b Beneficiary, now time.Time) error {
	if c.Status != StatusDistributed {
		return ErrInvalidState
	}
	if !now.Before(c.ExpiresAt) {
		return ErrCouponExpired
	}
	if c.Beneficiary == nil || !c.Beneficiary.Equals(b) {
		return ErrBeneficiaryMismatch
	}
	return nil
}

// UseStamp 是核销时要落到券上的一组字段。
type UseStamp struct {
	CaseID    int64
	PaymentID int64
	UsedBy    int64
	At        time.Time
}

// ConfirmUse 执行核销状态迁移。持久化层必须把这个守卫表达为
// 单条条件更新（WHERE status = DISTRIBUTED AND expires_at > now），
// 这里的内存实现供测试和仓储实现对照语义。
func (c *Coupon) ConfirmUse(stamp UseStamp) error {
	if c.Status != StatusDistributed || !stamp.At.Before(c.ExpiresAt) {
		return ErrAlreadyRedeemed
	}
	c.Status = StatusUsed
	at := stamp.At
	c.UsedAt = &at
	c.UsedForCaseID = &stamp.CaseID
	c.UsedForPaymentID = &stamp.PaymentID
	c.UsedByUserID = &stamp.UsedBy
	return nil
}

// Cancel 作废一张券。已核销的券不允许作废（不能追回已花掉的折扣），
// 此时返回错误而不是静默跳过，让调用方能发现误用。
func (c *Coupon) Cancel(reason string, cancelledBy int64, at time.Time) error {
	if c.Status != StatusCreated && c.Status != StatusDistributed {
		return ErrInvalidState
	}
	c.Status = StatusCancelled
	c.CancelledAt = &at
	c.CancelledBy = &cancelledBy
	c.CancelReason = reason
	return nil
}

// Expire 过期迁移，守卫条件是 expiresAt < now。
func (c *Coupon) Expire(now time.Time) error {
	if c.Status != StatusCreated && c.Status != StatusDistributed {
		return ErrInvalidState
	}
	if c.ExpiresAt.After(now) {
		return ErrInvalidState
	}
	c.Status = StatusExpired
	return nil
}

// IsTerminal 判断券是否已进入终态。
func (c *Coupon) IsTerminal() bool {
	return c.Status == StatusUsed || c.Status == StatusExpired || c.Status == StatusCancelled
}
