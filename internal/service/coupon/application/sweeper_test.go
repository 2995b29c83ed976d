package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"caremesh/internal/service/coupon/application"
	"caremesh/internal/service/coupon/domain"
)

type noopLock struct{}

func (noopLock) Lock(context.Context) error { return nil }
func (noopLock) Unlock() error              { return nil }

func newTestSweeper(coupons *memCouponRepo, publisher *capturingPublisher) *application.ExpirationSweeper {
	return application.NewExpirationSweeper(
		coupons, publisher, noopLock{}, otel.Tracer("test"),
		time.Minute, 30*24*time.Hour,
	)
}

func seedCoupon(t *testing.T, repo *memCouponRepo, status domain.Status, beneficiary *domain.Beneficiary, expiresAt time.Time) *domain.Coupon {
	t.Helper()
	c := &domain.Coupon{
		Code:      "CMC-" + uuid.New().String(),
		Discount:  domain.Discount{Type: domain.DiscountFixedAmount, Value: 5, Currency: "EUR"},
		Status:    domain.StatusCreated,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
		CreatedBy: 1,
	}
	require.NoError(t, repo.Create(context.Background(), c))
	if status != domain.StatusCreated {
		repo.mu.Lock()
		stored := repo.byID[c.ID]
		stored.Status = status
		stored.Beneficiary = beneficiary
		c.Status = status
		c.Beneficiary = beneficiary
		repo.mu.Unlock()
	}
	return c
}

func TestSweeper_SweepOnce_TransitionsAndGroupsEvents(t *testing.T) {
	coupons := newMemCouponRepo()
	publisher := &capturingPublisher{}
	sweeper := newTestSweeper(coupons, publisher)
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Hour)

	patient := &domain.Beneficiary{Kind: domain.BeneficiaryPatient, ID: 42}
	supervisor := &domain.Beneficiary{Kind: domain.BeneficiarySupervisor, ID: 7}

	// 同一受益人两张过期券 → 应合并成一个事件
	a := seedCoupon(t, coupons, domain.StatusDistributed, patient, past)
	b := seedCoupon(t, coupons, domain.StatusDistributed, patient, past)
	c := seedCoupon(t, coupons, domain.StatusDistributed, supervisor, past)
	// 未分配的过期券也要迁移
	pool := seedCoupon(t, coupons, domain.StatusCreated, nil, past)
	// 未过期与已核销的券不受影响
	fresh := seedCoupon(t, coupons, domain.StatusDistributed, patient, now.Add(time.Hour))
	used := seedCoupon(t, coupons, domain.StatusUsed, patient, past)

	affected, err := sweeper.SweepOnce(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), affected)

	for _, id := range []int64{a.ID, b.ID, c.ID, pool.ID} {
		got, err := coupons.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusExpired, got.Status)
	}
	gotFresh, err := coupons.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDistributed, gotFresh.Status)
	gotUsed, err := coupons.FindByID(ctx, used.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUsed, gotUsed.Status)

	// 三个分组：patient/42（两张）、supervisor/7、未分配
	require.Len(t, publisher.expired, 3)
	byBeneficiary := make(map[domain.Beneficiary]*domain.CouponsExpiredEvent)
	for _, e := range publisher.expired {
		byBeneficiary[domain.Beneficiary{Kind: e.BeneficiaryKind, ID: e.BeneficiaryID}] = e
	}
	patientEvent := byBeneficiary[*patient]
	require.NotNil(t, patientEvent)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, patientEvent.CouponIDs)
	assert.ElementsMatch(t, []string{a.Code, b.Code}, patientEvent.CouponCodes)
	require.NotNil(t, byBeneficiary[*supervisor])
	require.NotNil(t, byBeneficiary[domain.Beneficiary{}], "pool coupons group under the zero beneficiary")
}

func TestSweeper_SweepOnce_IsIdempotent(t *testing.T) {
	coupons := newMemCouponRepo()
	publisher := &capturingPublisher{}
	sweeper := newTestSweeper(coupons, publisher)
	ctx := context.Background()
	now := time.Now()

	seedCoupon(t, coupons, domain.StatusDistributed, &domain.Beneficiary{Kind: domain.BeneficiaryPatient, ID: 1}, now.Add(-time.Minute))

	affected, err := sweeper.SweepOnce(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	require.Len(t, publisher.expired, 1)

	// 第二轮找不到还满足守卫的行，也不得重复发事件
	affected, err = sweeper.SweepOnce(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)
	assert.Len(t, publisher.expired, 1)
}

func TestSweeper_WarnOnce(t *testing.T) {
	coupons := newMemCouponRepo()
	publisher := &capturingPublisher{}
	sweeper := newTestSweeper(coupons, publisher)
	ctx := context.Background()
	now := time.Now()

	patient := &domain.Beneficiary{Kind: domain.BeneficiaryPatient, ID: 11}
	soon := seedCoupon(t, coupons, domain.StatusDistributed, patient, now.Add(10*24*time.Hour))
	// 窗口之外、未发放、已在窗口内但没分配受益人的券都不提醒
	seedCoupon(t, coupons, domain.StatusDistributed, patient, now.Add(90*24*time.Hour))
	seedCoupon(t, coupons, domain.StatusCreated, nil, now.Add(10*24*time.Hour))

	require.NoError(t, sweeper.WarnOnce(ctx, now))
	require.Len(t, publisher.warnings, 1)
	warning := publisher.warnings[0]
	assert.Equal(t, patient.ID, warning.BeneficiaryID)
	assert.Equal(t, []string{soon.Code}, warning.CouponCodes)
	require.Len(t, warning.ExpiresAt, 1)
	assert.WithinDuration(t, soon.ExpiresAt, warning.ExpiresAt[0], time.Second)

	// 只读：券状态不变，重复扫描重复提醒（下游按 EventID 去重）
	got, err := coupons.FindByID(ctx, soon.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDistributed, got.Status)

	require.NoError(t, sweeper.WarnOnce(ctx, now))
	assert.Len(t, publisher.warnings, 2)
}
