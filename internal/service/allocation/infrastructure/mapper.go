// internal/service/allocation/infrastructure/mapper.go
package infrastructure

import (
	"database/sql"

	"caremesh/internal/service/allocation/domain"
)

// ToDomainAllocation 把持久化模型转换为领域实体。
func ToDomainAllocation(m *AllocationModel) *domain.Allocation {
	a := &domain.Allocation{
		ID:            m.ID,
		CouponCode:    m.CouponCode,
		OwnerKind:     domain.OwnerKind(m.OwnerKind),
		OwnerID:       m.OwnerID,
		Status:        domain.AllocationStatus(m.Status),
		DiscountType:  m.DiscountType,
		DiscountValue: m.DiscountValue,
		Currency:      m.Currency,
		ExpiresAt:     m.ExpiresAt,
		DistributedAt: m.DistributedAt,
		LastEventID:   m.LastEventID,
		LastSyncedAt:  m.LastSyncedAt,
	}
	if m.MaxDiscount.Valid {
		v := m.MaxDiscount.Float64
		a.MaxDiscount = &v
	}
	if m.AssignedToCaseID.Valid {
		v := m.AssignedToCaseID.Int64
		a.AssignedToCaseID = &v
	}
	if m.UsedAt.Valid {
		t := m.UsedAt.Time
		a.UsedAt = &t
	}
	if m.UsedForCaseID.Valid {
		v := m.UsedForCaseID.Int64
		a.UsedForCaseID = &v
	}
	return a
}

// FromDomainAllocation 把领域实体转换为持久化模型。
func FromDomainAllocation(a *domain.Allocation) *AllocationModel {
	m := &AllocationModel{
		ID:            a.ID,
		CouponCode:    a.CouponCode,
		OwnerKind:     string(a.OwnerKind),
		OwnerID:       a.OwnerID,
		Status:        string(a.Status),
		DiscountType:  a.DiscountType,
		DiscountValue: a.DiscountValue,
		Currency:      a.Currency,
		ExpiresAt:     a.ExpiresAt,
		DistributedAt: a.DistributedAt,
		LastEventID:   a.LastEventID,
		LastSyncedAt:  a.LastSyncedAt,
	}
	if a.MaxDiscount != nil {
		m.MaxDiscount = sql.NullFloat64{Float64: *a.MaxDiscount, Valid: true}
	}
	if a.AssignedToCaseID != nil {
		m.AssignedToCaseID = sql.NullInt64{Int64: *a.AssignedToCaseID, Valid: true}
	}
	if a.UsedAt != nil {
		m.UsedAt = sql.NullTime{Time: *a.UsedAt, Valid: true}
	}
	if a.UsedForCaseID != nil {
		m.UsedForCaseID = sql.NullInt64{Int64: *a.UsedForCaseID, Valid: true}
	}
	return m
}
