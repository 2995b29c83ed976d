// internal/service/payment/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"caremesh/internal/pkg/logger"
	"caremesh/internal/service/payment/domain"
	"caremesh/internal/service/payment/domain/port"
)

// RedemptionCoordinator 实现两阶段的券使用协议：
//
//	阶段一 ValidateCoupon：只读校验，不消耗券，可任意重复；
//	阶段二 RedeemCoupon：仅在外部扣款成功之后调用，穿过账本的守卫迁移。
//
// 核销输掉竞争时发起退款补偿：扣款已按折扣价完成，
// 多收的折扣额必须退给用户，这是本服务而不是账本的责任。
type RedemptionCoordinator struct {
	ledger      port.LedgerClient
	refunds     port.RefundRequester
	redemptions domain.RedemptionRepository
	tracer      trace.Tracer

	validateTimeout time.Duration
	confirmTimeout  time.Duration
}

// NewRedemptionCoordinator 创建协调器。
func NewRedemptionCoordinator(
	ledger port.LedgerClient,
	refunds port.RefundRequester,
	redemptions domain.RedemptionRepository,
	tracer trace.Tracer,
	validateTimeout, confirmTimeout time.Duration,
) *RedemptionCoordinator {
	return &RedemptionCoordinator{
		ledger:          ledger,
		refunds:         refunds,
		redemptions:     redemptions,
		tracer:          tracer,
		validateTimeout: validateTimeout,
		confirmTimeout:  confirmTimeout,
	}
}

// ValidateCoupon 在报价阶段调用。账本不可达时返回 ErrLedgerUnavailable，
// 调用方可以重试，或放弃折扣按原价走支付。
func (c *RedemptionCoordinator) ValidateCoupon(ctx context.Context, req *ValidateCouponRequest) (*ValidateCouponResult, error) {
	ctx, span := c.tracer.Start(ctx, "payment.ValidateCoupon")
	defer span.End()
	span.SetAttributes(attribute.String("coupon.code", req.Code))

	ctx, cancel := context.WithTimeout(ctx, c.validateTimeout)
	defer cancel()

	reply, err := c.ledger.Validate(ctx, &port.LedgerValidateRequest{
		Code:            req.Code,
		BeneficiaryKind: req.BeneficiaryKind,
		BeneficiaryID:   req.BeneficiaryID,
		Fee:             req.Fee,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &ValidateCouponResult{
		Valid:           reply.Valid,
		Reason:          reply.Reason,
		Currency:        reply.Currency,
		DiscountAmount:  reply.DiscountAmount,
		RemainingAmount: reply.RemainingAmount,
	}, nil
}

// RedeemCoupon 执行阶段二。调用的前置条件是扣款凭证（PaymentID）已存在。
//
// 核销冲突（账本返回 ALREADY_REDEEMED）有两种成因，处理完全不同：
//   - 上一次核销请求超时但实际已成功，本次是重试 → 按幂等成功返回；
//   - 另一笔支付真的抢先用掉了券 → 发退款补偿，返回 ErrCouponConflict。
//
// 两者靠账本上 usedForCaseId 是否等于本单来区分。
func (c *RedemptionCoordinator) RedeemCoupon(ctx context.Context, req *RedeemCouponRequest) (*RedeemCouponResult, error) {
	ctx, span := c.tracer.Start(ctx, "payment.RedeemCoupon")
	defer span.End()
	span.SetAttributes(
		attribute.String("coupon.code", req.Code),
		attribute.Int64("case.id", req.CaseID),
		attribute.Int64("payment.id", req.PaymentID),
	)

	confirmCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	reply, err := c.ledger.ConfirmUse(confirmCtx, &port.LedgerConfirmRequest{
		Code:           req.Code,
		CaseID:         req.CaseID,
		PaymentID:      req.PaymentID,
		PatientID:      req.PatientID,
		UsedByUserID:   req.UsedByUserID,
		OriginalAmount: req.OriginalAmount,
	})
	switch {
	case err == nil:
		return c.recordSuccess(ctx, req, reply.DiscountAmount, reply.ChargedAmount, reply.UsedAt)
	case errors.Is(err, domain.ErrCouponConflict):
		return c.resolveConflict(ctx, req)
	case errors.Is(err, domain.ErrCouponRejected):
		redemptionsTotal.WithLabelValues("rejected").Inc()
		span.RecordError(err)
		return nil, err
	default:
		// 不可达或超时：结果未知，调用方重试；
		// 若上次实际成功，重试会走到冲突分支并被识别为幂等成功
		redemptionsTotal.WithLabelValues("ledger_unavailable").Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("confirm use did not complete: %w", domain.ErrLedgerUnavailable)
	}
}

// resolveConflict 区分"自己的重试"和"真输给了别人"。
func (c *RedemptionCoordinator) resolveConflict(ctx context.Context, req *RedeemCouponRequest) (*RedeemCouponResult, error) {
	state, err := c.ledger.GetCoupon(ctx, req.Code)
	if err != nil {
		// 查不到赢家就不能贸然退款，把不确定性暴露给调用方重试
		return nil, fmt.Errorf("conflict resolution failed: %w", domain.ErrLedgerUnavailable)
	}

	if state.UsedForCaseID != nil && *state.UsedForCaseID == req.CaseID {
		// 赢家是本单：上一次请求超时但已成功，这是幂等重放
		logger.Ctx(ctx).Info().Str("coupon_code", req.Code).Int64("case_id", req.CaseID).
			Msg("confirm retry resolved as idempotent success")
		if record, ferr := c.redemptions.FindByCaseID(ctx, req.CaseID); ferr == nil {
			redemptionsTotal.WithLabelValues("replayed").Inc()
			return &RedeemCouponResult{
				CouponCode:     record.CouponCode,
				DiscountAmount: record.DiscountAmount,
				ChargedAmount:  record.ChargedAmount,
				RedeemedAt:     record.RedeemedAt,
			}, nil
		}
		// 流水还没落库（上次在记账前崩了），现在补上
		return c.recordSuccess(ctx, req, req.DiscountAmount, req.OriginalAmount-req.DiscountAmount, time.Now())
	}

	// 真冲突：券被并发的另一笔支付用掉了，按扣款时减免的金额发补偿退款
	redemptionsTotal.WithLabelValues("conflict").Inc()
	refund := &port.RefundRequest{
		CaseID:     req.CaseID,
		PaymentID:  req.PaymentID,
		PatientID:  req.PatientID,
		CouponCode: req.Code,
		Amount:     req.DiscountAmount,
		Currency:   req.Currency,
		Reason:     "coupon redeemed by a concurrent payment",
	}
	if rerr := c.refunds.RequestRefund(ctx, refund); rerr != nil {
		// 退款请求发不出去比冲突本身更严重，必须留下可追查的日志
		logger.Ctx(ctx).Error().Err(rerr).Int64("payment_id", req.PaymentID).
			Float64("amount", req.DiscountAmount).Msg("failed to request compensation refund")
		return nil, fmt.Errorf("refund request failed after losing redeem race: %w", rerr)
	}
	refundsRequestedTotal.Inc()
	logger.Ctx(ctx).Warn().Str("coupon_code", req.Code).Int64("case_id", req.CaseID).
		Float64("refund_amount", req.DiscountAmount).Msg("lost redeem race, compensation refund requested")
	return nil, domain.ErrCouponConflict
}

func (c *RedemptionCoordinator) recordSuccess(ctx context.Context, req *RedeemCouponRequest, discount, charged float64, usedAt time.Time) (*RedeemCouponResult, error) {
	record := &domain.RedemptionRecord{
		CaseID:         req.CaseID,
		PaymentID:      req.PaymentID,
		PatientID:      req.PatientID,
		CouponCode:     req.Code,
		OriginalAmount: req.OriginalAmount,
		DiscountAmount: discount,
		ChargedAmount:  charged,
		Currency:       req.Currency,
		RedeemedBy:     req.UsedByUserID,
		RedeemedAt:     usedAt,
	}
	if err := c.redemptions.Create(ctx, record); err != nil {
		if errors.Is(err, domain.ErrDuplicateRedemption) {
			// 核销成功但流水已存在：并发重试双双到达，结果一致
			redemptionsTotal.WithLabelValues("replayed").Inc()
			if existing, ferr := c.redemptions.FindByCaseID(ctx, req.CaseID); ferr == nil {
				return &RedeemCouponResult{
					CouponCode:     existing.CouponCode,
					DiscountAmount: existing.DiscountAmount,
					ChargedAmount:  existing.ChargedAmount,
					RedeemedAt:     existing.RedeemedAt,
				}, nil
			}
		}
		// 账本已迁移、流水写失败：不能回滚核销，靠日志对账
		logger.Ctx(ctx).Error().Err(err).Int64("case_id", req.CaseID).
			Str("coupon_code", req.Code).Msg("redeemed on ledger but failed to persist record")
		return nil, err
	}
	redemptionsTotal.WithLabelValues("success").Inc()
	return &RedeemCouponResult{
		CouponCode:     req.Code,
		DiscountAmount: discount,
		ChargedAmount:  charged,
		RedeemedAt:     usedAt,
	}, nil
}

// GetRedemption 按问诊查核销流水。
func (c *RedemptionCoordinator) GetRedemption(ctx context.Context, caseID int64) (*domain.RedemptionRecord, error) {
	return c.redemptions.FindByCaseID(ctx, caseID)
}
