// internal/service/allocation/application/service.go
package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"caremesh/internal/pkg/logger"
	"caremesh/internal/service/allocation/domain"
	"caremesh/internal/service/allocation/domain/port"
	coupondomain "caremesh/internal/service/coupon/domain"
)

// ReplicaService 维护本服务面向的用户群（监护人或患者）的券副本。
// 所有写入都来自账本事件；应用必须幂等，事件可能重复、可能乱序。
type ReplicaService struct {
	ownerKind   domain.OwnerKind
	allocations domain.AllocationRepository
	deduper     port.EventDeduper
	tracer      trace.Tracer
}

// NewReplicaService 创建副本服务。ownerKind 决定本实例只物化哪类受益人的事件。
func NewReplicaService(
	ownerKind domain.OwnerKind,
	allocations domain.AllocationRepository,
	deduper port.EventDeduper,
	tracer trace.Tracer,
) *ReplicaService {
	return &ReplicaService{
		ownerKind:   ownerKind,
		allocations: allocations,
		deduper:     deduper,
		tracer:      tracer,
	}
}

// OwnerKind 返回本副本面向的用户类型。
func (s *ReplicaService) OwnerKind() domain.OwnerKind { return s.ownerKind }

// relevant 过滤掉不属于本副本的事件：监护人服务忽略患者的券，反之亦然。
func (s *ReplicaService) relevant(kind coupondomain.BeneficiaryKind) bool {
	return string(kind) == string(s.ownerKind)
}

// alreadySeen 为真时整个事件直接跳过（并 commit offset）。
// 去重层不可用时按未见过处理，实体上的幂等规则兜底。
func (s *ReplicaService) alreadySeen(ctx context.Context, eventID string) bool {
	seen, err := s.deduper.Seen(ctx, eventID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("event_id", eventID).Msg("event dedup unavailable, applying anyway")
		return false
	}
	if seen {
		eventsDuplicateTotal.Inc()
	}
	return seen
}

// markApplied 在事件应用成功后写入去重标记。顺序不能反过来：
// 先标记再应用的话，应用失败后的重投递会被去重层吞掉，事件永久丢失。
// 标记本身失败只记日志，重放会被实体上的 LastEventID 挡住。
func (s *ReplicaService) markApplied(ctx context.Context, eventID string) {
	if err := s.deduper.MarkApplied(ctx, eventID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("event_id", eventID).Msg("failed to mark event applied")
	}
}

// HandleDistributed 物化一条新的券副本。重复投递时 upsert 收敛到同一行。
func (s *ReplicaService) HandleDistributed(ctx context.Context, event *coupondomain.CouponDistributedEvent) error {
	ctx, span := s.tracer.Start(ctx, "replica.HandleDistributed")
	defer span.End()
	span.SetAttributes(attribute.String("coupon.code", event.CouponCode))

	if !s.relevant(event.BeneficiaryKind) {
		return nil
	}
	if s.alreadySeen(ctx, event.EventID) {
		return nil
	}
	if err := s.applyDistributed(ctx, event); err != nil {
		span.RecordError(err)
		return err
	}
	s.markApplied(ctx, event.EventID)
	return nil
}

func (s *ReplicaService) applyDistributed(ctx context.Context, event *coupondomain.CouponDistributedEvent) error {
	allocation, err := s.allocations.FindByCouponCode(ctx, event.CouponCode)
	switch {
	case errors.Is(err, domain.ErrAllocationNotFound):
		allocation = &domain.Allocation{
			CouponCode:    event.CouponCode,
			OwnerKind:     s.ownerKind,
			OwnerID:       event.BeneficiaryID,
			Status:        domain.StatusAvailable,
			DiscountType:  string(event.DiscountType),
			DiscountValue: event.DiscountValue,
			MaxDiscount:   event.MaxDiscount,
			Currency:      event.Currency,
			ExpiresAt:     event.ExpiresAt,
			DistributedAt: event.Timestamp,
			LastEventID:   event.EventID,
			LastSyncedAt:  event.Timestamp,
		}
		eventsAppliedTotal.WithLabelValues("distributed").Inc()
		return s.allocations.Save(ctx, allocation)
	case err != nil:
		return err
	}

	changed, err := allocation.ApplyDistributed(event.EventID, event.Timestamp)
	if err != nil {
		if errors.Is(err, domain.ErrStaleEvent) {
			logger.Ctx(ctx).Debug().Str("coupon_code", event.CouponCode).Msg("stale distributed event ignored")
			return nil
		}
		return err
	}
	if !changed {
		// 乱序场景：used 先到建的占位副本缺折扣明细，
		// 迟到的 distributed 只补明细，不碰状态
		if allocation.DiscountType == "" {
			allocation.DiscountType = string(event.DiscountType)
			allocation.DiscountValue = event.DiscountValue
			allocation.MaxDiscount = event.MaxDiscount
			allocation.Currency = event.Currency
			allocation.ExpiresAt = event.ExpiresAt
			allocation.DistributedAt = event.Timestamp
			return s.allocations.Save(ctx, allocation)
		}
		return nil
	}
	allocation.OwnerID = event.BeneficiaryID
	allocation.DiscountType = string(event.DiscountType)
	allocation.DiscountValue = event.DiscountValue
	allocation.MaxDiscount = event.MaxDiscount
	allocation.Currency = event.Currency
	allocation.ExpiresAt = event.ExpiresAt
	allocation.DistributedAt = event.Timestamp
	eventsAppliedTotal.WithLabelValues("distributed").Inc()
	return s.allocations.Save(ctx, allocation)
}

// HandleUsed 把副本迁移到 USED。券未知时建占位副本：
// used 事件可能先于 distributed 到达，丢弃它会让副本永远停在 AVAILABLE。
func (s *ReplicaService) HandleUsed(ctx context.Context, event *coupondomain.CouponUsedEvent) error {
	ctx, span := s.tracer.Start(ctx, "replica.HandleUsed")
	defer span.End()
	span.SetAttributes(attribute.String("coupon.code", event.CouponCode))

	if !s.relevant(event.BeneficiaryKind) {
		return nil
	}
	if s.alreadySeen(ctx, event.EventID) {
		return nil
	}
	if err := s.applyUsed(ctx, event); err != nil {
		span.RecordError(err)
		return err
	}
	s.markApplied(ctx, event.EventID)
	return nil
}

func (s *ReplicaService) applyUsed(ctx context.Context, event *coupondomain.CouponUsedEvent) error {
	allocation, err := s.allocations.FindByCouponCode(ctx, event.CouponCode)
	switch {
	case errors.Is(err, domain.ErrAllocationNotFound):
		logger.Ctx(ctx).Warn().Str("coupon_code", event.CouponCode).
			Msg("used event arrived before distributed, creating placeholder")
		usedAt := event.UsedAt
		caseID := event.CaseID
		allocation = &domain.Allocation{
			CouponCode:    event.CouponCode,
			OwnerKind:     s.ownerKind,
			OwnerID:       event.BeneficiaryID,
			Status:        domain.StatusUsed,
			UsedAt:        &usedAt,
			UsedForCaseID: &caseID,
			LastEventID:   event.EventID,
			LastSyncedAt:  event.Timestamp,
		}
		eventsAppliedTotal.WithLabelValues("used").Inc()
		return s.allocations.Save(ctx, allocation)
	case err != nil:
		return err
	}

	changed, err := allocation.ApplyUsed(event.EventID, event.Timestamp, event.UsedAt, event.CaseID)
	if err != nil && !errors.Is(err, domain.ErrStaleEvent) {
		return err
	}
	if !changed {
		return nil
	}
	eventsAppliedTotal.WithLabelValues("used").Inc()
	return s.allocations.Save(ctx, allocation)
}

// HandleCancelled 把副本迁移到 CANCELLED。已核销的副本保持 USED。
func (s *ReplicaService) HandleCancelled(ctx context.Context, event *coupondomain.CouponCancelledEvent) error {
	ctx, span := s.tracer.Start(ctx, "replica.HandleCancelled")
	defer span.End()

	if !s.relevant(event.BeneficiaryKind) {
		return nil
	}
	if s.alreadySeen(ctx, event.EventID) {
		return nil
	}
	if err := s.applyCancelled(ctx, event); err != nil {
		span.RecordError(err)
		return err
	}
	s.markApplied(ctx, event.EventID)
	return nil
}

func (s *ReplicaService) applyCancelled(ctx context.Context, event *coupondomain.CouponCancelledEvent) error {
	allocation, err := s.allocations.FindByCouponCode(ctx, event.CouponCode)
	if errors.Is(err, domain.ErrAllocationNotFound) {
		// 从未发放到本副本的券被作废：无事可做
		return nil
	}
	if err != nil {
		return err
	}

	changed, err := allocation.ApplyCancelled(event.EventID, event.Timestamp)
	if err != nil && !errors.Is(err, domain.ErrStaleEvent) {
		return err
	}
	if !changed {
		return nil
	}
	eventsAppliedTotal.WithLabelValues("cancelled").Inc()
	return s.allocations.Save(ctx, allocation)
}

// HandleExpired 应用分组过期事件，逐码处理。
// 单码失败不中止整组；只要有失败就不写去重标记、不提交 offset，
// 重投递时已经过期的码被 LastEventID 挡住，只补漏掉的码。
func (s *ReplicaService) HandleExpired(ctx context.Context, event *coupondomain.CouponsExpiredEvent) error {
	ctx, span := s.tracer.Start(ctx, "replica.HandleExpired")
	defer span.End()
	span.SetAttributes(attribute.Int("coupon.count", len(event.CouponCodes)))

	if !s.relevant(event.BeneficiaryKind) {
		return nil
	}
	if s.alreadySeen(ctx, event.EventID) {
		return nil
	}
	if err := s.applyExpired(ctx, event); err != nil {
		span.RecordError(err)
		return err
	}
	s.markApplied(ctx, event.EventID)
	return nil
}

func (s *ReplicaService) applyExpired(ctx context.Context, event *coupondomain.CouponsExpiredEvent) error {
	var lastErr error
	for _, code := range event.CouponCodes {
		allocation, err := s.allocations.FindByCouponCode(ctx, code)
		if errors.Is(err, domain.ErrAllocationNotFound) {
			continue
		}
		if err != nil {
			lastErr = err
			continue
		}
		changed, err := allocation.ApplyExpired(event.EventID, event.Timestamp)
		if err != nil && !errors.Is(err, domain.ErrStaleEvent) {
			lastErr = err
			continue
		}
		if !changed {
			continue
		}
		eventsAppliedTotal.WithLabelValues("expired").Inc()
		if err := s.allocations.Save(ctx, allocation); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ListForOwner 返回某用户的全部券副本。
func (s *ReplicaService) ListForOwner(ctx context.Context, ownerID int64) ([]*domain.Allocation, error) {
	ctx, span := s.tracer.Start(ctx, "replica.ListForOwner")
	defer span.End()
	return s.allocations.FindByOwner(ctx, s.ownerKind, ownerID)
}

// ListAvailableForOwner 返回某用户当前可用（AVAILABLE 且未过期）的券副本。
func (s *ReplicaService) ListAvailableForOwner(ctx context.Context, ownerID int64) ([]*domain.Allocation, error) {
	ctx, span := s.tracer.Start(ctx, "replica.ListAvailableForOwner")
	defer span.End()

	allocations, err := s.allocations.FindAvailableByOwner(ctx, s.ownerKind, ownerID)
	if err != nil {
		return nil, err
	}
	// 副本的过期迁移要等扫描事件，这里按本地时钟再过滤一次，
	// 避免把已经过了有效期、事件还没到的券展示为可用
	now := time.Now()
	out := allocations[:0]
	for _, a := range allocations {
		if a.ExpiresAt.After(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Assign 把可用副本预留给某次问诊。纯本地，不触达账本。
func (s *ReplicaService) Assign(ctx context.Context, code string, caseID int64) (*domain.Allocation, error) {
	ctx, span := s.tracer.Start(ctx, "replica.Assign")
	defer span.End()

	allocation, err := s.allocations.FindByCouponCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := allocation.Assign(caseID); err != nil {
		return nil, err
	}
	if err := s.allocations.Save(ctx, allocation); err != nil {
		return nil, err
	}
	return allocation, nil
}

// Unassign 释放本地预留。
func (s *ReplicaService) Unassign(ctx context.Context, code string) (*domain.Allocation, error) {
	ctx, span := s.tracer.Start(ctx, "replica.Unassign")
	defer span.End()

	allocation, err := s.allocations.FindByCouponCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := allocation.Unassign(); err != nil {
		return nil, err
	}
	if err := s.allocations.Save(ctx, allocation); err != nil {
		return nil, err
	}
	return allocation, nil
}

// GetByCode 按券码查询副本。
func (s *ReplicaService) GetByCode(ctx context.Context, code string) (*domain.Allocation, error) {
	return s.allocations.FindByCouponCode(ctx, code)
}
