// internal/service/coupon/domain/repository.go
package domain

import (
	"context"
	"time"
)

// CouponRepository 定义了账本的持久化接口。
//
// 所有写操作都必须经过这里的守卫迁移方法——任何调用方都不允许
// 读出状态再写回去。守卫迁移在存储层表达为单条条件更新，
// 返回的 affected 数就是正确性信号：0 表示守卫不满足，迁移没有发生。
type CouponRepository interface {
	Create(ctx context.Context, coupon *Coupon) error
	FindByID(ctx context.Context, id int64) (*Coupon, error)
	FindByIDs(ctx context.Context, ids []int64) ([]*Coupon, error)
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByBatchID(ctx context.Context, batchID int64) ([]*Coupon, error)

	// Distribute 执行 CREATED -> DISTRIBUTED 的条件更新。
	Distribute(ctx context.Context, id int64, b Beneficiary, distributedBy int64, at time.Time) (int64, error)

	// DistributeBatch 对同批次所有还处于 CREATED 的券执行同样的迁移。
	// 在一个事务里锁定源状态的行、批量更新并返回被迁移的券 ID；
	// 部分券已不在源状态是预期情况，不中止整批。
	DistributeBatch(ctx context.Context, batchID int64, b Beneficiary, distributedBy int64, at time.Time) ([]int64, error)

	// ConfirmUse 是系统最重要的守卫：单条
	// UPDATE ... WHERE status = 'DISTRIBUTED' AND expires_at > now。
	// 并发核销同一张券时恰好一个调用 affected=1，其余观察到 0。
	ConfirmUse(ctx context.Context, code string, stamp UseStamp) (int64, error)

	// Cancel 只允许从 CREATED / DISTRIBUTED 作废。
	Cancel(ctx context.Context, id int64, reason string, cancelledBy int64, at time.Time) (int64, error)
	CancelBatch(ctx context.Context, batchID int64, reason string, cancelledBy int64, at time.Time) ([]int64, error)

	// FindExpirable 返回 expiresAt < now 且仍处于可变状态的券。
	FindExpirable(ctx context.Context, now time.Time) ([]*Coupon, error)

	// MarkExpired 对给定券执行守卫的批量过期迁移，返回实际迁移数。
	// 重复执行是幂等的：第二次找不到还满足守卫的行。
	MarkExpired(ctx context.Context, ids []int64, now time.Time) (int64, error)

	// FindExpiringSoon 返回在预警窗口内即将过期、仍为 DISTRIBUTED 的券。
	// 只读，不做任何迁移。
	FindExpiringSoon(ctx context.Context, now time.Time, horizon time.Duration) ([]*Coupon, error)
}

// BatchRepository 定义了批次的持久化接口。
type BatchRepository interface {
	// CreateWithCoupons 在同一个事务里落批次和成员券。
	CreateWithCoupons(ctx context.Context, batch *CouponBatch, coupons []*Coupon) error
	FindByID(ctx context.Context, id int64) (*CouponBatch, error)
	FindByCode(ctx context.Context, code string) (*CouponBatch, error)
	UpdateStatus(ctx context.Context, id int64, status BatchStatus) error
}
