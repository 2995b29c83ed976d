// internal/service/coupon/domain/port/publisher.go
package port

import (
	"context"

	"caremesh/internal/service/coupon/domain"
)

// EventPublisher 是账本的出站事件端口。
// 实现方负责把事件发到对应主题；发布失败不回滚账本迁移。
type EventPublisher interface {
	PublishDistributed(ctx context.Context, event *domain.CouponDistributedEvent) error
	PublishUsed(ctx context.Context, event *domain.CouponUsedEvent) error
	PublishCancelled(ctx context.Context, event *domain.CouponCancelledEvent) error
	PublishExpired(ctx context.Context, event *domain.CouponsExpiredEvent) error
	PublishExpiryWarning(ctx context.Context, event *domain.ExpiryWarningEvent) error
}
