// internal/service/allocation/infrastructure/gorm_model.go
package infrastructure

import (
	"database/sql"
	"time"
)

// AllocationModel 是券副本的持久化模型。
// coupon_code 唯一：重复投递的事件经 upsert 收敛到同一行。
type AllocationModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	CouponCode string `gorm:"type:varchar(64);uniqueIndex;not null"`
	OwnerKind  string `gorm:"type:varchar(16);index:idx_owner;not null"`
	OwnerID    int64  `gorm:"index:idx_owner;not null"`

	Status string `gorm:"type:varchar(16);index;not null"`

	DiscountType  string          `gorm:"type:varchar(20)"`
	DiscountValue float64         `gorm:"type:decimal(10,2)"`
	MaxDiscount   sql.NullFloat64 `gorm:"type:decimal(10,2)"`
	Currency      string          `gorm:"type:varchar(8)"`

	ExpiresAt time.Time `gorm:"index"`

	AssignedToCaseID sql.NullInt64
	UsedAt           sql.NullTime
	UsedForCaseID    sql.NullInt64

	DistributedAt time.Time
	LastEventID   string    `gorm:"type:varchar(64)"`
	LastSyncedAt  time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定表名。
func (AllocationModel) TableName() string {
	return "coupon_allocations"
}
