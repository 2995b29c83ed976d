// internal/service/payment/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"caremesh/internal/service/payment/domain"
)

// RedemptionModel 是核销流水的持久化模型。case_id 唯一键是
// "一次问诊至多一张券"在存储层的表达。
type RedemptionModel struct {
	ID             int64   `gorm:"primaryKey;autoIncrement"`
	CaseID         int64   `gorm:"uniqueIndex;not null"`
	PaymentID      int64   `gorm:"index;not null"`
	PatientID      int64   `gorm:"index"`
	CouponCode     string  `gorm:"type:varchar(64);index;not null"`
	OriginalAmount float64 `gorm:"type:decimal(10,2)"`
	DiscountAmount float64 `gorm:"type:decimal(10,2)"`
	ChargedAmount  float64 `gorm:"type:decimal(10,2)"`
	Currency       string  `gorm:"type:varchar(8)"`
	RedeemedBy     int64   `gorm:"not null"`
	RedeemedAt     time.Time
	CreatedAt      time.Time
}

// TableName 指定表名。
func (RedemptionModel) TableName() string {
	return "coupon_redemptions"
}

// GormRedemptionRepository 基于 GORM 的核销流水存储。
type GormRedemptionRepository struct {
	db *gorm.DB
}

// NewGormRedemptionRepository 创建仓储并迁移表结构。
func NewGormRedemptionRepository(db *gorm.DB) (*GormRedemptionRepository, error) {
	if err := db.AutoMigrate(&RedemptionModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate redemption schema: %w", err)
	}
	return &GormRedemptionRepository{db: db}, nil
}

// mysqlDuplicateEntry 是 MySQL 唯一键冲突的错误码。
const mysqlDuplicateEntry = 1062

// Create 插入一条流水。case_id 冲突返回 ErrDuplicateRedemption。
func (r *GormRedemptionRepository) Create(ctx context.Context, record *domain.RedemptionRecord) error {
	model := &RedemptionModel{
		CaseID:         record.CaseID,
		PaymentID:      record.PaymentID,
		PatientID:      record.PatientID,
		CouponCode:     record.CouponCode,
		OriginalAmount: record.OriginalAmount,
		DiscountAmount: record.DiscountAmount,
		ChargedAmount:  record.ChargedAmount,
		Currency:       record.Currency,
		RedeemedBy:     record.RedeemedBy,
		RedeemedAt:     record.RedeemedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		var mysqlErr *gomysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return domain.ErrDuplicateRedemption
		}
		return fmt.Errorf("failed to create redemption record for case %d: %w", record.CaseID, err)
	}
	record.ID = model.ID
	record.CreatedAt = model.CreatedAt
	return nil
}

// FindByCaseID 按问诊查流水。
func (r *GormRedemptionRepository) FindByCaseID(ctx context.Context, caseID int64) (*domain.RedemptionRecord, error) {
	var model RedemptionModel
	err := r.db.WithContext(ctx).Where("case_id = ?", caseID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to find redemption for case %d: %w", caseID, err)
	}
	return &domain.RedemptionRecord{
		ID:             model.ID,
		CaseID:         model.CaseID,
		PaymentID:      model.PaymentID,
		PatientID:      model.PatientID,
		CouponCode:     model.CouponCode,
		OriginalAmount: model.OriginalAmount,
		DiscountAmount: model.DiscountAmount,
		ChargedAmount:  model.ChargedAmount,
		Currency:       model.Currency,
		RedeemedBy:     model.RedeemedBy,
		RedeemedAt:     model.RedeemedAt,
		CreatedAt:      model.CreatedAt,
	}, nil
}
