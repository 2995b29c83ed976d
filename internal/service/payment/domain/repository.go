// internal/service/payment/domain/repository.go
package domain

import "context"

// RedemptionRepository 是核销流水的只增存储。
// Create 在 case_id 冲突时必须返回 ErrDuplicateRedemption。
type RedemptionRepository interface {
	Create(ctx context.Context, record *RedemptionRecord) error
	FindByCaseID(ctx context.Context, caseID int64) (*RedemptionRecord, error)
}
