// internal/service/allocation/domain/repository.go
package domain

import (
	"context"
)

// AllocationRepository 是副本存储。券码在单个副本库内唯一，
// Save 对同码记录做 upsert，事件应用路径靠它保证重复投递收敛。
type AllocationRepository interface {
	Save(ctx context.Context, allocation *Allocation) error
	FindByCouponCode(ctx context.Context, code string) (*Allocation, error)
	FindByOwner(ctx context.Context, kind OwnerKind, ownerID int64) ([]*Allocation, error)
	FindAvailableByOwner(ctx context.Context, kind OwnerKind, ownerID int64) ([]*Allocation, error)
}
