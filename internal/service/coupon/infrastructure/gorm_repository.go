// internal/service/coupon/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"caremesh/internal/service/coupon/domain"
)

// GormCouponRepository 是 CouponRepository 的 GORM 实现。
//
// 所有状态迁移都表达为单条条件更新（UPDATE ... WHERE status = ...），
// RowsAffected 就是守卫是否命中的信号。任何实现都不允许把迁移拆成
// 先读后写两步。
type GormCouponRepository struct {
	db *gorm.DB
}

// NewGormCouponRepository 创建一个新的 GORM 仓储实例
func NewGormCouponRepository(db *gorm.DB) *GormCouponRepository {
	return &GormCouponRepository{db: db}
}

func (r *GormCouponRepository) Create(ctx context.Context, coupon *domain.Coupon) error {
	model := FromDomainCoupon(coupon)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	coupon.ID = model.ID
	return nil
}

func (r *GormCouponRepository) FindByID(ctx context.Context, id int64) (*domain.Coupon, error) {
	var model CouponModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCouponNotFound
		}
		return nil, err
	}
	return ToDomainCoupon(&model), nil
}

func (r *GormCouponRepository) FindByIDs(ctx context.Context, ids []int64) ([]*domain.Coupon, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var models []*CouponModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	return toDomainCoupons(models), nil
}

func (r *GormCouponRepository) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var model CouponModel
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCouponNotFound
		}
		return nil, err
	}
	return ToDomainCoupon(&model), nil
}

func (r *GormCouponRepository) FindByBatchID(ctx context.Context, batchID int64) ([]*domain.Coupon, error) {
	var models []*CouponModel
	if err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Find(&models).Error; err != nil {
		return nil, err
	}
	return toDomainCoupons(models), nil
}

// Distribute 执行 CREATED -> DISTRIBUTED 的条件更新。
func (r *GormCouponRepository) Distribute(ctx context.Context, id int64, b domain.Beneficiary, distributedBy int64, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&CouponModel{}).
		Where("id = ? AND status = ?", id, domain.StatusCreated).
		Updates(map[string]interface{}{
			"status":           domain.StatusDistributed,
			"beneficiary_kind": string(b.Kind),
			"beneficiary_id":   b.ID,
			"distributed_at":   at,
			"distributed_by":   distributedBy,
		})
	return res.RowsAffected, res.Error
}

// DistributeBatch 在一个事务里锁定批次内仍处于 CREATED 的券，
// 批量迁移并返回被迁移的券 ID。
func (r *GormCouponRepository) DistributeBatch(ctx context.Context, batchID int64, b domain.Beneficiary, distributedBy int64, at time.Time) ([]int64, error) {
	var moved []int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []int64
		err := tx.Model(&CouponModel{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("batch_id = ? AND status = ?", batchID, domain.StatusCreated).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		res := tx.Model(&CouponModel{}).
			Where("id IN ? AND status = ?", ids, domain.StatusCreated).
			Updates(map[string]interface{}{
				"status":           domain.StatusDistributed,
				"beneficiary_kind": string(b.Kind),
				"beneficiary_id":   b.ID,
				"distributed_at":   at,
				"distributed_by":   distributedBy,
			})
		if res.Error != nil {
			return res.Error
		}
		moved = ids
		return nil
	})
	return moved, err
}

// ConfirmUse 是整个子系统最关键的一条 SQL：
//
//	UPDATE coupons SET status='USED', ... WHERE code=? AND status='DISTRIBUTED' AND expires_at > ?
//
// 并发核销同一张券时恰好一个调用拿到 RowsAffected=1。
func (r *GormCouponRepository) ConfirmUse(ctx context.Context, code string, stamp domain.UseStamp) (int64, error) {
	res := r.db.WithContext(ctx).Model(&CouponModel{}).
		Where("code = ? AND status = ? AND expires_at > ?", code, domain.StatusDistributed, stamp.At).
		Updates(map[string]interface{}{
			"status":              domain.StatusUsed,
			"used_at":             stamp.At,
			"used_for_case_id":    stamp.CaseID,
			"used_for_payment_id": stamp.PaymentID,
			"used_by_user_id":     stamp.UsedBy,
		})
	return res.RowsAffected, res.Error
}

// Cancel 只允许从 CREATED / DISTRIBUTED 作废。
func (r *GormCouponRepository) Cancel(ctx context.Context, id int64, reason string, cancelledBy int64, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&CouponModel{}).
		Where("id = ? AND status IN ?", id, []string{string(domain.StatusCreated), string(domain.StatusDistributed)}).
		Updates(map[string]interface{}{
			"status":        domain.StatusCancelled,
			"cancelled_at":  at,
			"cancelled_by":  cancelledBy,
			"cancel_reason": reason,
		})
	return res.RowsAffected, res.Error
}

func (r *GormCouponRepository) CancelBatch(ctx context.Context, batchID int64, reason string, cancelledBy int64, at time.Time) ([]int64, error) {
	var moved []int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []int64
		err := tx.Model(&CouponModel{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("batch_id = ? AND status IN ?", batchID, []string{string(domain.StatusCreated), string(domain.StatusDistributed)}).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		res := tx.Model(&CouponModel{}).
			Where("id IN ? AND status IN ?", ids, []string{string(domain.StatusCreated), string(domain.StatusDistributed)}).
			Updates(map[string]interface{}{
				"status":        domain.StatusCancelled,
				"cancelled_at":  at,
				"cancelled_by":  cancelledBy,
				"cancel_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		moved = ids
		return nil
	})
	return moved, err
}

func (r *GormCouponRepository) FindExpirable(ctx context.Context, now time.Time) ([]*domain.Coupon, error) {
	var models []*CouponModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?", []string{string(domain.StatusCreated), string(domain.StatusDistributed)}, now).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDomainCoupons(models), nil
}

// MarkExpired 守卫的批量过期迁移；重复执行找不到还满足条件的行，天然幂等。
func (r *GormCouponRepository) MarkExpired(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&CouponModel{}).
		Where("id IN ? AND status IN ? AND expires_at < ?", ids,
			[]string{string(domain.StatusCreated), string(domain.StatusDistributed)}, now).
		Update("status", domain.StatusExpired)
	return res.RowsAffected, res.Error
}

func (r *GormCouponRepository) FindExpiringSoon(ctx context.Context, now time.Time, horizon time.Duration) ([]*domain.Coupon, error) {
	var models []*CouponModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at > ? AND expires_at < ?", domain.StatusDistributed, now, now.Add(horizon)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDomainCoupons(models), nil
}

func toDomainCoupons(models []*CouponModel) []*domain.Coupon {
	coupons := make([]*domain.Coupon, len(models))
	for i, m := range models {
		coupons[i] = ToDomainCoupon(m)
	}
	return coupons
}

// GormBatchRepository 是 BatchRepository 的 GORM 实现。
type GormBatchRepository struct {
	db *gorm.DB
}

// NewGormBatchRepository 创建批次仓储实例
func NewGormBatchRepository(db *gorm.DB) *GormBatchRepository {
	return &GormBatchRepository{db: db}
}

// CreateWithCoupons 在同一个事务里落批次和成员券。
func (r *GormBatchRepository) CreateWithCoupons(ctx context.Context, batch *domain.CouponBatch, coupons []*domain.Coupon) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batchModel := FromDomainBatch(batch)
		if err := tx.Create(batchModel).Error; err != nil {
			return err
		}
		batch.ID = batchModel.ID

		models := make([]*CouponModel, len(coupons))
		for i, c := range coupons {
			id := batchModel.ID
			c.BatchID = &id
			models[i] = FromDomainCoupon(c)
		}
		if err := tx.CreateInBatches(models, 200).Error; err != nil {
			return err
		}
		for i, m := range models {
			coupons[i].ID = m.ID
		}
		return nil
	})
}

func (r *GormBatchRepository) FindByID(ctx context.Context, id int64) (*domain.CouponBatch, error) {
	var model CouponBatchModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, err
	}
	return ToDomainBatch(&model), nil
}

func (r *GormBatchRepository) FindByCode(ctx context.Context, code string) (*domain.CouponBatch, error) {
	var model CouponBatchModel
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, err
	}
	return ToDomainBatch(&model), nil
}

func (r *GormBatchRepository) UpdateStatus(ctx context.Context, id int64, status domain.BatchStatus) error {
	return r.db.WithContext(ctx).Model(&CouponBatchModel{}).
		Where("id = ?", id).Update("status", string(status)).Error
}
