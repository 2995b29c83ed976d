// internal/service/coupon/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"caremesh/internal/pkg/logger"
	"caremesh/internal/service/coupon/domain"
	"caremesh/internal/service/coupon/domain/port"
)

// LedgerService 是优惠券账本的应用服务，所有状态迁移都从这里发起。
// 事件在迁移提交之后发布；发布失败只记日志和指标，不回滚迁移。
type LedgerService struct {
	coupons   domain.CouponRepository
	batches   domain.BatchRepository
	publisher port.EventPublisher
	rules     port.RuleEngine
	tracer    trace.Tracer
}

// NewLedgerService 创建账本服务实例。
func NewLedgerService(
	coupons domain.CouponRepository,
	batches domain.BatchRepository,
	publisher port.EventPublisher,
	rules port.RuleEngine,
	tracer trace.Tracer,
) *LedgerService {
	return &LedgerService{
		coupons:   coupons,
		batches:   batches,
		publisher: publisher,
		rules:     rules,
		tracer:    tracer,
	}
}

// newCouponCode 生成一个人类可读的券码。
func newCouponCode(prefix string) string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return prefix + raw[:12]
}

// CreateCoupon 创建单张券，初始状态 CREATED。
func (s *LedgerService) CreateCoupon(ctx context.Context, req *CreateCouponRequest) (*domain.Coupon, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.CreateCoupon")
	defer span.End()

	coupon := &domain.Coupon{
		Code: newCouponCode("CMC-"),
		Discount: domain.Discount{
			Type:      req.DiscountType,
			Value:     req.DiscountValue,
			MaxAmount: req.MaxDiscount,
			Currency:  req.Currency,
		},
		Status:    domain.StatusCreated,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: time.Now(),
		CreatedBy: req.CreatedBy,
	}
	if req.BeneficiaryKind != "" {
		coupon.Beneficiary = &domain.Beneficiary{Kind: req.BeneficiaryKind, ID: req.BeneficiaryID}
	}

	if err := s.coupons.Create(ctx, coupon); err != nil {
		span.RecordError(err)
		return nil, err
	}

	transitionsTotal.WithLabelValues("create").Inc()
	span.SetAttributes(attribute.String("coupon.code", coupon.Code))
	return coupon, nil
}

// CreateBatch 创建批次并一次性物化全部成员券。
func (s *LedgerService) CreateBatch(ctx context.Context, req *CreateBatchRequest) (*CreateBatchResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.CreateBatch")
	defer span.End()

	if req.Count <= 0 {
		return nil, fmt.Errorf("batch count must be positive, got %d", req.Count)
	}

	now := time.Now()
	batch := &domain.CouponBatch{
		Code: newCouponCode("CMB-"),
		Discount: domain.Discount{
			Type:      req.DiscountType,
			Value:     req.DiscountValue,
			MaxAmount: req.MaxDiscount,
			Currency:  req.Currency,
		},
		RequestedCount:  req.Count,
		ExpiryDays:      req.ExpiryDays,
		EligibilityRule: req.EligibilityRule,
		Status:          domain.BatchCreated,
		CreatedAt:       now,
		CreatedBy:       req.CreatedBy,
	}
	if req.BeneficiaryKind != "" {
		batch.Beneficiary = &domain.Beneficiary{Kind: req.BeneficiaryKind, ID: req.BeneficiaryID}
	}

	expiresAt := now.AddDate(0, 0, req.ExpiryDays)
	coupons := make([]*domain.Coupon, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		coupons = append(coupons, &domain.Coupon{
			Code:        newCouponCode("CMC-"),
			Discount:    batch.Discount,
			Beneficiary: batch.Beneficiary,
			Status:      domain.StatusCreated,
			ExpiresAt:   expiresAt,
			CreatedAt:   now,
			CreatedBy:   req.CreatedBy,
		})
	}

	if err := s.batches.CreateWithCoupons(ctx, batch, coupons); err != nil {
		span.RecordError(err)
		return nil, err
	}

	transitionsTotal.WithLabelValues("create").Add(float64(req.Count))
	codes := make([]string, len(coupons))
	for i, c := range coupons {
		codes[i] = c.Code
	}
	span.SetAttributes(attribute.String("batch.code", batch.Code), attribute.Int("batch.count", req.Count))
	return &CreateBatchResponse{BatchID: batch.ID, BatchCode: batch.Code, CouponCodes: codes}, nil
}

// Distribute 把券发放给受益人：CREATED -> DISTRIBUTED 的守卫迁移。
func (s *LedgerService) Distribute(ctx context.Context, req *DistributeRequest) (*domain.Coupon, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Distribute")
	defer span.End()

	b := domain.Beneficiary{Kind: req.BeneficiaryKind, ID: req.BeneficiaryID}
	now := time.Now()

	affected, err := s.coupons.Distribute(ctx, req.CouponID, b, req.DistributedBy, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if affected == 0 {
		// 守卫没有命中：要么券不存在，要么不在 CREATED 状态
		if _, ferr := s.coupons.FindByID(ctx, req.CouponID); ferr != nil {
			return nil, ferr
		}
		return nil, domain.ErrInvalidState
	}

	transitionsTotal.WithLabelValues("distribute").Inc()

	coupon, err := s.coupons.FindByID(ctx, req.CouponID)
	if err != nil {
		return nil, err
	}
	s.publishDistributed(ctx, coupon)
	return coupon, nil
}

// DistributeBatch 对批次内仍处于 CREATED 的券统一发放。
// 部分券已流转是预期情况，不会中止整批，返回实际发放数。
func (s *LedgerService) DistributeBatch(ctx context.Context, req *DistributeBatchRequest) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.DistributeBatch")
	defer span.End()

	batch, err := s.batches.FindByID(ctx, req.BatchID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	var b domain.Beneficiary
	switch {
	case req.BeneficiaryKind != "":
		b = domain.Beneficiary{Kind: req.BeneficiaryKind, ID: req.BeneficiaryID}
	case batch.Beneficiary != nil:
		b = *batch.Beneficiary
	default:
		return 0, fmt.Errorf("batch %d has no beneficiary and none was provided", req.BatchID)
	}

	now := time.Now()
	movedIDs, err := s.coupons.DistributeBatch(ctx, req.BatchID, b, req.DistributedBy, now)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	affected := int64(len(movedIDs))
	if affected > 0 {
		transitionsTotal.WithLabelValues("distribute").Add(float64(affected))
		if err := s.batches.UpdateStatus(ctx, req.BatchID, domain.BatchDistributed); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Int64("batch_id", req.BatchID).Msg("failed to update batch status")
		}

		// 只为本次发放动作实际迁移的券发事件
		coupons, err := s.coupons.FindByIDs(ctx, movedIDs)
		if err != nil {
			return affected, err
		}
		for _, c := range coupons {
			s.publishDistributed(ctx, c)
		}
	}

	span.SetAttributes(attribute.Int64("batch.distributed", affected))
	return affected, nil
}

// Validate 只读校验：不消耗券，调用方可以反复校验（比如重新渲染价格）。
// 类型化的失败原因放在返回值里，error 只表示基础设施故障。
func (s *LedgerService) Validate(ctx context.Context, req *ValidateRequest) (*ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Validate")
	defer span.End()
	span.SetAttributes(attribute.String("coupon.code", req.Code))

	coupon, err := s.coupons.FindByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, domain.ErrCouponNotFound) {
			return &ValidationResult{Valid: false, Reason: ReasonNotFound, RemainingAmount: req.Fee}, nil
		}
		span.RecordError(err)
		return nil, err
	}

	b := domain.Beneficiary{Kind: req.BeneficiaryKind, ID: req.BeneficiaryID}
	if err := coupon.CheckUsable(b, time.Now()); err != nil {
		reason := ReasonNotDistributed
		switch {
		case errors.Is(err, domain.ErrCouponExpired):
			reason = ReasonExpired
		case errors.Is(err, domain.ErrBeneficiaryMismatch):
			reason = ReasonBeneficiaryMismatch
		}
		return &ValidationResult{Valid: false, Reason: reason, CouponCode: coupon.Code, RemainingAmount: req.Fee}, nil
	}

	// 批次上可选的适用性规则（如最低消费门槛）
	if coupon.BatchID != nil {
		batch, err := s.batches.FindByID(ctx, *coupon.BatchID)
		if err != nil && !errors.Is(err, domain.ErrBatchNotFound) {
			span.RecordError(err)
			return nil, err
		}
		if batch != nil && batch.EligibilityRule != "" {
			ok, err := s.rules.Evaluate(batch.EligibilityRule, map[string]interface{}{
				"fee":             req.Fee,
				"beneficiaryKind": string(req.BeneficiaryKind),
				"beneficiaryId":   req.BeneficiaryID,
			})
			if err != nil {
				// 规则坏了按不适用拒绝：校验只是报价阶段的咨询，
				// 不能因为一条规则表达式把整个支付路径打成 500
				span.RecordError(err)
				logger.Ctx(ctx).Error().Err(err).Int64("batch_id", batch.ID).
					Msg("eligibility rule evaluation failed, rejecting coupon")
				return &ValidationResult{Valid: false, Reason: ReasonNotEligible, CouponCode: coupon.Code, RemainingAmount: req.Fee}, nil
			}
			if !ok {
				return &ValidationResult{Valid: false, Reason: ReasonNotEligible, CouponCode: coupon.Code, RemainingAmount: req.Fee}, nil
			}
		}
	}

	discount := coupon.Discount.AmountFor(req.Fee)
	return &ValidationResult{
		Valid:           true,
		CouponID:        coupon.ID,
		CouponCode:      coupon.Code,
		Currency:        coupon.Discount.Currency,
		DiscountAmount:  discount,
		RemainingAmount: req.Fee - discount,
	}, nil
}

// ConfirmUse 执行核销：单条条件更新，affected=0 即守卫输掉了竞争，
// 必须作为失败返回，绝不能当作"别人已经替我成功了"。
func (s *LedgerService) ConfirmUse(ctx context.Context, req *ConfirmUseRequest) (*ConfirmUseResult, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.ConfirmUse")
	defer span.End()
	span.SetAttributes(
		attribute.String("coupon.code", req.Code),
		attribute.Int64("case.id", req.CaseID),
		attribute.Int64("payment.id", req.PaymentID),
	)

	now := time.Now()
	stamp := domain.UseStamp{
		CaseID:    req.CaseID,
		PaymentID: req.PaymentID,
		UsedBy:    req.UsedByUserID,
		At:        now,
	}

	affected, err := s.coupons.ConfirmUse(ctx, req.Code, stamp)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if affected == 0 {
		if _, ferr := s.coupons.FindByCode(ctx, req.Code); ferr != nil {
			return nil, ferr // NotFound 是调用方的 bug，与竞争失败区分开
		}
		redeemConflictsTotal.Inc()
		return nil, domain.ErrAlreadyRedeemed
	}

	transitionsTotal.WithLabelValues("use").Inc()

	coupon, err := s.coupons.FindByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	// 核销侧用同一公式重算折扣，保证事件金额与校验阶段一致
	discount := coupon.Discount.AmountFor(req.OriginalAmount)
	s.publishUsed(ctx, coupon, req, discount, now)

	return &ConfirmUseResult{
		CouponID:       coupon.ID,
		CouponCode:     coupon.Code,
		DiscountAmount: discount,
		ChargedAmount:  req.OriginalAmount - discount,
		UsedAt:         now,
	}, nil
}

// Cancel 作废一张券。对 USED 的券作废是错误而不是 no-op。
func (s *LedgerService) Cancel(ctx context.Context, req *CancelRequest) error {
	ctx, span := s.tracer.Start(ctx, "ledger.Cancel")
	defer span.End()

	now := time.Now()
	affected, err := s.coupons.Cancel(ctx, req.CouponID, req.Reason, req.CancelledBy, now)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if affected == 0 {
		if _, ferr := s.coupons.FindByID(ctx, req.CouponID); ferr != nil {
			return ferr
		}
		return domain.ErrInvalidState
	}

	transitionsTotal.WithLabelValues("cancel").Inc()

	coupon, err := s.coupons.FindByID(ctx, req.CouponID)
	if err != nil {
		return err
	}
	s.publishCancelled(ctx, coupon)
	return nil
}

// CancelBatch 作废批次内仍可作废的券，返回实际作废数。
func (s *LedgerService) CancelBatch(ctx context.Context, req *CancelBatchRequest) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.CancelBatch")
	defer span.End()

	if _, err := s.batches.FindByID(ctx, req.BatchID); err != nil {
		return 0, err
	}

	now := time.Now()
	movedIDs, err := s.coupons.CancelBatch(ctx, req.BatchID, req.Reason, req.CancelledBy, now)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	affected := int64(len(movedIDs))
	if affected > 0 {
		transitionsTotal.WithLabelValues("cancel").Add(float64(affected))
		if err := s.batches.UpdateStatus(ctx, req.BatchID, domain.BatchCancelled); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Int64("batch_id", req.BatchID).Msg("failed to update batch status")
		}

		coupons, err := s.coupons.FindByIDs(ctx, movedIDs)
		if err != nil {
			return affected, err
		}
		for _, c := range coupons {
			s.publishCancelled(ctx, c)
		}
	}
	return affected, nil
}

// GetCoupon 查询单张券。
func (s *LedgerService) GetCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	return s.coupons.FindByCode(ctx, code)
}

// --- 事件发布：账本写入已提交，失败只记录，不回滚不同步重试 ---

func (s *LedgerService) publishDistributed(ctx context.Context, c *domain.Coupon) {
	if c.Beneficiary == nil || c.DistributedAt == nil {
		return
	}
	event := &domain.CouponDistributedEvent{
		EventID:         uuid.New().String(),
		EventType:       domain.EventTypeDistributed,
		CouponID:        c.ID,
		CouponCode:      c.Code,
		BeneficiaryKind: c.Beneficiary.Kind,
		BeneficiaryID:   c.Beneficiary.ID,
		DiscountType:    c.Discount.Type,
		DiscountValue:   c.Discount.Value,
		MaxDiscount:     c.Discount.MaxAmount,
		Currency:        c.Discount.Currency,
		ExpiresAt:       c.ExpiresAt,
		BatchID:         c.BatchID,
		Timestamp:       time.Now(),
	}
	if c.DistributedBy != nil {
		event.DistributedBy = *c.DistributedBy
	}
	if err := s.publisher.PublishDistributed(ctx, event); err != nil {
		publishFailuresTotal.WithLabelValues(domain.TopicCouponDistributed).Inc()
		logger.Ctx(ctx).Error().Err(err).Str("coupon_code", c.Code).Msg("failed to publish distributed event")
	}
}

func (s *LedgerService) publishUsed(ctx context.Context, c *domain.Coupon, req *ConfirmUseRequest, discount float64, usedAt time.Time) {
	if c.Beneficiary == nil {
		return
	}
	event := &domain.CouponUsedEvent{
		EventID:          uuid.New().String(),
		EventType:        domain.EventTypeUsed,
		CouponID:         c.ID,
		CouponCode:       c.Code,
		BeneficiaryKind:  c.Beneficiary.Kind,
		BeneficiaryID:    c.Beneficiary.ID,
		PatientID:        req.PatientID,
		CaseID:           req.CaseID,
		PaymentID:        req.PaymentID,
		OriginalAmount:   req.OriginalAmount,
		DiscountAmount:   discount,
		ChargedAmount:    req.OriginalAmount - discount,
		UsedAt:           usedAt,
		RedeemedByUserID: req.UsedByUserID,
		Timestamp:        time.Now(),
	}
	if err := s.publisher.PublishUsed(ctx, event); err != nil {
		publishFailuresTotal.WithLabelValues(domain.TopicCouponUsed).Inc()
		logger.Ctx(ctx).Error().Err(err).Str("coupon_code", c.Code).Msg("failed to publish used event")
	}
}

func (s *LedgerService) publishCancelled(ctx context.Context, c *domain.Coupon) {
	event := &domain.CouponCancelledEvent{
		EventID:    uuid.New().String(),
		EventType:  domain.EventTypeCancelled,
		CouponID:   c.ID,
		CouponCode: c.Code,
		Reason:     c.CancelReason,
		Timestamp:  time.Now(),
	}
	if c.Beneficiary != nil {
		event.BeneficiaryKind = c.Beneficiary.Kind
		event.BeneficiaryID = c.Beneficiary.ID
	}
	if c.CancelledBy != nil {
		event.CancelledBy = *c.CancelledBy
	}
	if c.CancelledAt != nil {
		event.CancelledAt = *c.CancelledAt
	}
	if err := s.publisher.PublishCancelled(ctx, event); err != nil {
		publishFailuresTotal.WithLabelValues(domain.TopicCouponCancelled).Inc()
		logger.Ctx(ctx).Error().Err(err).Str("coupon_code", c.Code).Msg("failed to publish cancelled event")
	}
}
