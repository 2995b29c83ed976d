// internal/service/coupon/infrastructure/gorm_model.go
package infrastructure

import (
	"database/sql"
	"time"
)

// CouponModel 对应数据库中的 coupons 表，账本的唯一权威存储。
type CouponModel struct {
	ID   int64  `gorm:"primaryKey;autoIncrement"`
	Code string `gorm:"type:varchar(32);uniqueIndex;not null"`

	DiscountType  string          `gorm:"type:varchar(16);not null"`
	DiscountValue float64         `gorm:"type:decimal(10,2);not null"`
	MaxDiscount   sql.NullFloat64 `gorm:"type:decimal(10,2)"`
	Currency      string          `gorm:"type:varchar(8);not null"`

	BeneficiaryKind sql.NullString `gorm:"type:varchar(16);index:idx_coupons_beneficiary"`
	BeneficiaryID   sql.NullInt64  `gorm:"index:idx_coupons_beneficiary"`
	BatchID         sql.NullInt64  `gorm:"index"`

	Status    string    `gorm:"type:varchar(16);not null;index"`
	ExpiresAt time.Time `gorm:"index;not null"`

	CreatedAt time.Time
	CreatedBy int64

	DistributedAt sql.NullTime
	DistributedBy sql.NullInt64

	UsedAt           sql.NullTime
	UsedForCaseID    sql.NullInt64
	UsedForPaymentID sql.NullInt64
	UsedByUserID     sql.NullInt64

	CancelledAt  sql.NullTime
	CancelledBy  sql.NullInt64
	CancelReason string `gorm:"type:varchar(255)"`
}

// TableName 指定 GORM 应该使用的表名
func (CouponModel) TableName() string {
	return "coupons"
}

// CouponBatchModel 对应数据库中的 coupon_batches 表。
type CouponBatchModel struct {
	ID   int64  `gorm:"primaryKey;autoIncrement"`
	Code string `gorm:"type:varchar(32);uniqueIndex;not null"`

	DiscountType  string          `gorm:"type:varchar(16);not null"`
	DiscountValue float64         `gorm:"type:decimal(10,2);not null"`
	MaxDiscount   sql.NullFloat64 `gorm:"type:decimal(10,2)"`
	Currency      string          `gorm:"type:varchar(8);not null"`

	RequestedCount  int
	BeneficiaryKind sql.NullString `gorm:"type:varchar(16)"`
	BeneficiaryID   sql.NullInt64
	ExpiryDays      int
	EligibilityRule string `gorm:"type:text"`

	Status    string `gorm:"type:varchar(16);not null"`
	CreatedAt time.Time
	CreatedBy int64
}

// TableName 指定 GORM 应该使用的表名
func (CouponBatchModel) TableName() string {
	return "coupon_batches"
}
