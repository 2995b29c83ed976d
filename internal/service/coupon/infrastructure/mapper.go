// internal/service/coupon/infrastructure/mapper.go
package infrastructure

import (
	"database/sql"
	"time"

	"caremesh/internal/service/coupon/domain"
)

// ToDomainCoupon 将数据库模型转换为领域模型
func ToDomainCoupon(model *CouponModel) *domain.Coupon {
	if model == nil {
		return nil
	}
	c := &domain.Coupon{
		ID:   model.ID,
		Code: model.Code,
		Discount: domain.Discount{
			Type:     domain.DiscountType(model.DiscountType),
			Value:    model.DiscountValue,
			Currency: model.Currency,
		},
		Status:       domain.Status(model.Status),
		ExpiresAt:    model.ExpiresAt,
		CreatedAt:    model.CreatedAt,
		CreatedBy:    model.CreatedBy,
		CancelReason: model.CancelReason,
	}
	if model.MaxDiscount.Valid {
		v := model.MaxDiscount.Float64
		c.Discount.MaxAmount = &v
	}
	if model.BeneficiaryKind.Valid && model.BeneficiaryID.Valid {
		c.Beneficiary = &domain.Beneficiary{
			Kind: domain.BeneficiaryKind(model.BeneficiaryKind.String),
			ID:   model.BeneficiaryID.Int64,
		}
	}
	if model.BatchID.Valid {
		v := model.BatchID.Int64
		c.BatchID = &v
	}
	c.DistributedAt = nullTimePtr(model.DistributedAt)
	c.DistributedBy = nullInt64Ptr(model.DistributedBy)
	c.UsedAt = nullTimePtr(model.UsedAt)
	c.UsedForCaseID = nullInt64Ptr(model.UsedForCaseID)
	c.UsedForPaymentID = nullInt64Ptr(model.UsedForPaymentID)
	c.UsedByUserID = nullInt64Ptr(model.UsedByUserID)
	c.CancelledAt = nullTimePtr(model.CancelledAt)
	c.CancelledBy = nullInt64Ptr(model.CancelledBy)
	return c
}

// FromDomainCoupon 将领域模型转换为数据库模型（用于插入）
func FromDomainCoupon(c *domain.Coupon) *CouponModel {
	if c == nil {
		return nil
	}
	model := &CouponModel{
		ID:            c.ID,
		Code:          c.Code,
		DiscountType:  string(c.Discount.Type),
		DiscountValue: c.Discount.Value,
		Currency:      c.Discount.Currency,
		Status:        string(c.Status),
		ExpiresAt:     c.ExpiresAt,
		CreatedAt:     c.CreatedAt,
		CreatedBy:     c.CreatedBy,
		CancelReason:  c.CancelReason,
	}
	if c.Discount.MaxAmount != nil {
		model.MaxDiscount = sql.NullFloat64{Float64: *c.Discount.MaxAmount, Valid: true}
	}
	if c.Beneficiary != nil {
		model.BeneficiaryKind = sql.NullString{String: string(c.Beneficiary.Kind), Valid: true}
		model.BeneficiaryID = sql.NullInt64{Int64: c.Beneficiary.ID, Valid: true}
	}
	if c.BatchID != nil {
		model.BatchID = sql.NullInt64{Int64: *c.BatchID, Valid: true}
	}
	model.DistributedAt = ptrNullTime(c.DistributedAt)
	model.DistributedBy = ptrNullInt64(c.DistributedBy)
	model.UsedAt = ptrNullTime(c.UsedAt)
	model.UsedForCaseID = ptrNullInt64(c.UsedForCaseID)
	model.UsedForPaymentID = ptrNullInt64(c.UsedForPaymentID)
	model.UsedByUserID = ptrNullInt64(c.UsedByUserID)
	model.CancelledAt = ptrNullTime(c.CancelledAt)
	model.CancelledBy = ptrNullInt64(c.CancelledBy)
	return model
}

// ToDomainBatch 将数据库模型转换为领域模型
func ToDomainBatch(model *CouponBatchModel) *domain.CouponBatch {
	if model == nil {
		return nil
	}
	b := &domain.CouponBatch{
		ID:   model.ID,
		Code: model.Code,
		Discount: domain.Discount{
			Type:     domain.DiscountType(model.DiscountType),
			Value:    model.DiscountValue,
			Currency: model.Currency,
		},
		RequestedCount:  model.RequestedCount,
		ExpiryDays:      model.ExpiryDays,
		EligibilityRule: model.EligibilityRule,
		Status:          domain.BatchStatus(model.Status),
		CreatedAt:       model.CreatedAt,
		CreatedBy:       model.CreatedBy,
	}
	if model.MaxDiscount.Valid {
		v := model.MaxDiscount.Float64
		b.Discount.MaxAmount = &v
	}
	if model.BeneficiaryKind.Valid && model.BeneficiaryID.Valid {
		b.Beneficiary = &domain.Beneficiary{
			Kind: domain.BeneficiaryKind(model.BeneficiaryKind.String),
			ID:   model.BeneficiaryID.Int64,
		}
	}
	return b
}

// FromDomainBatch 将领域模型转换为数据库模型
func FromDomainBatch(b *domain.CouponBatch) *CouponBatchModel {
	if b == nil {
		return nil
	}
	model := &CouponBatchModel{
		ID:              b.ID,
		Code:            b.Code,
		DiscountType:    string(b.Discount.Type),
		DiscountValue:   b.Discount.Value,
		Currency:        b.Discount.Currency,
		RequestedCount:  b.RequestedCount,
		ExpiryDays:      b.ExpiryDays,
		EligibilityRule: b.EligibilityRule,
		Status:          string(b.Status),
		CreatedAt:       b.CreatedAt,
		CreatedBy:       b.CreatedBy,
	}
	if b.Discount.MaxAmount != nil {
		model.MaxDiscount = sql.NullFloat64{Float64: *b.Discount.MaxAmount, Valid: true}
	}
	if b.Beneficiary != nil {
		model.BeneficiaryKind = sql.NullString{String: string(b.Beneficiary.Kind), Valid: true}
		model.BeneficiaryID = sql.NullInt64{Int64: b.Beneficiary.ID, Valid: true}
	}
	return model
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func ptrNullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func ptrNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
