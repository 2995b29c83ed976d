// internal/service/coupon/domain/batch.go
package domain

import "time"

// BatchStatus 镜像批次内券的聚合状态。
type BatchStatus string

const (
	BatchCreated     BatchStatus = "CREATED"
	BatchDistributed BatchStatus = "DISTRIBUTED"
	BatchCancelled   BatchStatus = "CANCELLED"
)

// CouponBatch 是创建/发放时的便捷分组，不是运行时单元：
// 券一旦落库，各自独立流转，批量操作只是对同批次券逐张应用同样的守卫迁移。
type CouponBatch struct {
	ID             int64
	Code           string // 批次号，全局唯一
	Discount       Discount
	RequestedCount int

	// 受益人可以在创建批次时先不指定，发放时再统一指定
	Beneficiary *Beneficiary

	// ExpiryDays 是模板字段：成员券的过期时间 = 创建时间 + ExpiryDays
	ExpiryDays int

	// EligibilityRule 是可选的 CEL 表达式，在校验时评估，
	// 例如 "fee >= 50.0"。为空表示无门槛。
	EligibilityRule string

	Status    BatchStatus
	CreatedAt time.Time
	CreatedBy int64
}
