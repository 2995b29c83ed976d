// internal/service/allocation/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"caremesh/internal/service/allocation/domain"
)

// GormAllocationRepository 基于 GORM 的副本存储实现。
type GormAllocationRepository struct {
	db *gorm.DB
}

// NewGormAllocationRepository 创建仓储并迁移表结构。
func NewGormAllocationRepository(db *gorm.DB) (*GormAllocationRepository, error) {
	if err := db.AutoMigrate(&AllocationModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate allocation schema: %w", err)
	}
	return &GormAllocationRepository{db: db}, nil
}

// Save 按 coupon_code 做 upsert。并发消费同一券码的事件时，
// 唯一索引保证不会出现两行，后写覆盖前写的字段。
func (r *GormAllocationRepository) Save(ctx context.Context, allocation *domain.Allocation) error {
	model := FromDomainAllocation(allocation)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "coupon_code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner_kind", "owner_id", "status",
			"discount_type", "discount_value", "max_discount", "currency",
			"expires_at", "assigned_to_case_id", "used_at", "used_for_case_id",
			"distributed_at", "last_event_id", "last_synced_at", "updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to save allocation %s: %w", allocation.CouponCode, err)
	}
	allocation.ID = model.ID
	return nil
}

// FindByCouponCode 按券码查询。
func (r *GormAllocationRepository) FindByCouponCode(ctx context.Context, code string) (*domain.Allocation, error) {
	var model AllocationModel
	err := r.db.WithContext(ctx).Where("coupon_code = ?", code).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAllocationNotFound
		}
		return nil, fmt.Errorf("failed to find allocation %s: %w", code, err)
	}
	return ToDomainAllocation(&model), nil
}

// FindByOwner 返回某用户的全部副本，新发放的在前。
func (r *GormAllocationRepository) FindByOwner(ctx context.Context, kind domain.OwnerKind, ownerID int64) ([]*domain.Allocation, error) {
	var models []AllocationModel
	err := r.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ?", string(kind), ownerID).
		Order("distributed_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations for %s/%d: %w", kind, ownerID, err)
	}
	out := make([]*domain.Allocation, len(models))
	for i := range models {
		out[i] = ToDomainAllocation(&models[i])
	}
	return out, nil
}

// FindAvailableByOwner 返回某用户状态为 AVAILABLE 且未过期的副本，先过期的在前。
func (r *GormAllocationRepository) FindAvailableByOwner(ctx context.Context, kind domain.OwnerKind, ownerID int64) ([]*domain.Allocation, error) {
	var models []AllocationModel
	err := r.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ? AND status = ? AND expires_at > ?",
			string(kind), ownerID, string(domain.StatusAvailable), time.Now()).
		Order("expires_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list available allocations for %s/%d: %w", kind, ownerID, err)
	}
	out := make([]*domain.Allocation, len(models))
	for i := range models {
		out[i] = ToDomainAllocation(&models[i])
	}
	return out, nil
}
