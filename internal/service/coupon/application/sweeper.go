// internal/service/coupon/application/sweeper.go
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"caremesh/internal/pkg/logger"
	"caremesh/internal/service/coupon/domain"
	"caremesh/internal/service/coupon/domain/port"
)

// SweeperLock 抽象了过期扫描器的 leader 选举锁。
// 生产实现基于 ZooKeeper 临时顺序节点；守卫的批量更新本身是幂等的，
// 锁只是避免多实例做重复的无效扫描。
type SweeperLock interface {
	Lock(ctx context.Context) error
	Unlock() error
}

// ExpirationSweeper 是周期性的单写者任务：
// (a) 批量把过期的券迁移到 EXPIRED 并按受益人分组发事件；
// (b) 独立的只读扫描，对预警窗口内即将过期的券发提醒。
type ExpirationSweeper struct {
	coupons   domain.CouponRepository
	publisher port.EventPublisher
	lock      SweeperLock
	tracer    trace.Tracer

	interval time.Duration
	horizon  time.Duration // 即将过期的预警窗口，默认 30 天
}

// NewExpirationSweeper 创建扫描器。
func NewExpirationSweeper(
	coupons domain.CouponRepository,
	publisher port.EventPublisher,
	lock SweeperLock,
	tracer trace.Tracer,
	interval, horizon time.Duration,
) *ExpirationSweeper {
	return &ExpirationSweeper{
		coupons:   coupons,
		publisher: publisher,
		lock:      lock,
		tracer:    tracer,
		interval:  interval,
		horizon:   horizon,
	}
}

// Run 先竞争 leader 锁（阻塞直到当选或 ctx 取消），然后按周期执行扫描。
// 签名满足 bootstrap.AppInfo.Workers。
func (s *ExpirationSweeper) Run(ctx context.Context) error {
	if err := s.lock.Lock(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			logger.Logger.Warn().Err(err).Msg("failed to release sweeper lock")
		}
	}()
	logger.Logger.Info().Dur("interval", s.interval).Msg("expiration sweeper elected leader")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			if _, err := s.SweepOnce(ctx, now); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("expiration sweep failed")
			}
			if err := s.WarnOnce(ctx, now); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("expiry warning scan failed")
			}
		case <-ctx.Done():
			logger.Logger.Info().Msg("expiration sweeper shutting down")
			return ctx.Err()
		}
	}
}

// SweepOnce 执行一轮过期迁移，返回实际迁移数。
// 重复执行是安全的：守卫的批量更新在第二轮找不到还满足条件的行。
func (s *ExpirationSweeper) SweepOnce(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "sweeper.SweepOnce")
	defer span.End()

	candidates, err := s.coupons.FindExpirable(ctx, now)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	affected, err := s.coupons.MarkExpired(ctx, ids, now)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	expiredSweepTotal.Add(float64(affected))
	span.SetAttributes(attribute.Int64("sweep.affected", affected))

	if affected == 0 {
		return 0, nil
	}

	// 候选集里可能有券在 select 和 update 之间被并发核销，
	// 守卫会放过它们；重新读一次，只为真正迁移到 EXPIRED 的券发事件。
	moved, err := s.coupons.FindByIDs(ctx, ids)
	if err != nil {
		return affected, err
	}

	groups := make(map[domain.Beneficiary][]*domain.Coupon)
	for _, c := range moved {
		if c.Status != domain.StatusExpired {
			continue
		}
		var key domain.Beneficiary // 未分配的券归到零值组
		if c.Beneficiary != nil {
			key = *c.Beneficiary
		}
		groups[key] = append(groups[key], c)
	}

	// 按受益人分组发事件，把事件量约束在受益人数量级
	for beneficiary, coupons := range groups {
		event := &domain.CouponsExpiredEvent{
			EventID:         uuid.New().String(),
			EventType:       domain.EventTypeExpired,
			BeneficiaryKind: beneficiary.Kind,
			BeneficiaryID:   beneficiary.ID,
			ExpiredAt:       now,
			Timestamp:       time.Now(),
		}
		for _, c := range coupons {
			event.CouponIDs = append(event.CouponIDs, c.ID)
			event.CouponCodes = append(event.CouponCodes, c.Code)
		}
		if err := s.publisher.PublishExpired(ctx, event); err != nil {
			publishFailuresTotal.WithLabelValues(domain.TopicCouponExpired).Inc()
			logger.Ctx(ctx).Error().Err(err).
				Str("beneficiary_kind", string(beneficiary.Kind)).
				Int64("beneficiary_id", beneficiary.ID).
				Msg("failed to publish expired event")
		}
	}

	logger.Ctx(ctx).Info().Int64("affected", affected).Int("groups", len(groups)).Msg("expiration sweep done")
	return affected, nil
}

// WarnOnce 扫描预警窗口内即将过期、仍为 DISTRIBUTED 的券并发提醒。
// 这条路径只读，不做任何状态迁移。
func (s *ExpirationSweeper) WarnOnce(ctx context.Context, now time.Time) error {
	ctx, span := s.tracer.Start(ctx, "sweeper.WarnOnce")
	defer span.End()

	expiring, err := s.coupons.FindExpiringSoon(ctx, now, s.horizon)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(expiring) == 0 {
		return nil
	}

	groups := make(map[domain.Beneficiary][]*domain.Coupon)
	for _, c := range expiring {
		if c.Beneficiary == nil {
			continue
		}
		groups[*c.Beneficiary] = append(groups[*c.Beneficiary], c)
	}

	for beneficiary, coupons := range groups {
		event := &domain.ExpiryWarningEvent{
			EventID:         uuid.New().String(),
			EventType:       domain.EventTypeExpiryWarning,
			BeneficiaryKind: beneficiary.Kind,
			BeneficiaryID:   beneficiary.ID,
			Timestamp:       time.Now(),
		}
		for _, c := range coupons {
			event.CouponCodes = append(event.CouponCodes, c.Code)
			event.ExpiresAt = append(event.ExpiresAt, c.ExpiresAt)
		}
		if err := s.publisher.PublishExpiryWarning(ctx, event); err != nil {
			publishFailuresTotal.WithLabelValues(domain.TopicCouponNotices).Inc()
			logger.Ctx(ctx).Error().Err(err).
				Int64("beneficiary_id", beneficiary.ID).
				Msg("failed to publish expiry warning")
		}
	}
	return nil
}
