package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"caremesh/internal/service/coupon/application"
	"caremesh/internal/service/coupon/domain"
)

// =============================================================================
// 测试用内存仓储：守卫迁移在持锁状态下检查并更新，
// 语义对齐 GORM 实现里的单条条件更新。
// =============================================================================

type memCouponRepo struct {
	mu     sync.Mutex
	byID   map[int64]*domain.Coupon
	nextID int64
}

func newMemCouponRepo() *memCouponRepo {
	return &memCouponRepo{byID: make(map[int64]*domain.Coupon)}
}

func cloneCoupon(c *domain.Coupon) *domain.Coupon {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Beneficiary != nil {
		b := *c.Beneficiary
		cp.Beneficiary = &b
	}
	return &cp
}

func (r *memCouponRepo) Create(_ context.Context, coupon *domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	coupon.ID = r.nextID
	r.byID[coupon.ID] = cloneCoupon(coupon)
	return nil
}

func (r *memCouponRepo) FindByID(_ context.Context, id int64) (*domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrCouponNotFound
	}
	return cloneCoupon(c), nil
}

func (r *memCouponRepo) FindByIDs(_ context.Context, ids []int64) ([]*domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Coupon
	for _, id := range ids {
		if c, ok := r.byID[id]; ok {
			out = append(out, cloneCoupon(c))
		}
	}
	return out, nil
}

func (r *memCouponRepo) FindByCode(_ context.Context, code string) (*domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.Code == code {
			return cloneCoupon(c), nil
		}
	}
	return nil, domain.ErrCouponNotFound
}

func (r *memCouponRepo) FindByBatchID(_ context.Context, batchID int64) ([]*domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Coupon
	for _, c := range r.byID {
		if c.BatchID != nil && *c.BatchID == batchID {
			out = append(out, cloneCoupon(c))
		}
	}
	return out, nil
}

func (r *memCouponRepo) Distribute(_ context.Context, id int64, b domain.Beneficiary, distributedBy int64, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok || c.Status != domain.StatusCreated {
		return 0, nil
	}
	c.Beneficiary = &b
	c.Status = domain.StatusDistributed
	c.DistributedAt = &at
	c.DistributedBy = &distributedBy
	return 1, nil
}

func (r *memCouponRepo) DistributeBatch(_ context.Context, batchID int64, b domain.Beneficiary, distributedBy int64, at time.Time) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var moved []int64
	for _, c := range r.byID {
		if c.BatchID != nil && *c.BatchID == batchID && c.Status == domain.StatusCreated {
			beneficiary := b
			c.Beneficiary = &beneficiary
			c.Status = domain.StatusDistributed
			c.DistributedAt = &at
			c.DistributedBy = &distributedBy
			moved = append(moved, c.ID)
		}
	}
	return moved, nil
}

func (r *memCouponRepo) ConfirmUse(_ context.Context, code string, stamp domain.UseStamp) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.Code != code {
			continue
		}
		// 对应 UPDATE ... WHERE status='DISTRIBUTED' AND expires_at > ?
		if c.Status != domain.StatusDistributed || !stamp.At.Before(c.ExpiresAt) {
			return 0, nil
		}
		at := stamp.At
		c.Status = domain.StatusUsed
		c.UsedAt = &at
		c.UsedForCaseID = &stamp.CaseID
		c.UsedForPaymentID = &stamp.PaymentID
		c.UsedByUserID = &stamp.UsedBy
		return 1, nil
	}
	return 0, nil
}

func (r *memCouponRepo) Cancel(_ context.Context, id int64, reason string, cancelledBy int64, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok || (c.Status != domain.StatusCreated && c.Status != domain.StatusDistributed) {
		return 0, nil
	}
	c.Status = domain.StatusCancelled
	c.CancelledAt = &at
	c.CancelledBy = &cancelledBy
	c.CancelReason = reason
	return 1, nil
}

func (r *memCouponRepo) CancelBatch(_ context.Context, batchID int64, reason string, cancelledBy int64, at time.Time) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var moved []int64
	for _, c := range r.byID {
		if c.BatchID != nil && *c.BatchID == batchID &&
			(c.Status == domain.StatusCreated || c.Status == domain.StatusDistributed) {
			c.Status = domain.StatusCancelled
			c.CancelledAt = &at
			c.CancelledBy = &cancelledBy
			c.CancelReason = reason
			moved = append(moved, c.ID)
		}
	}
	return moved, nil
}

func (r *memCouponRepo) FindExpirable(_ context.Context, now time.Time) ([]*domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Coupon
	for _, c := range r.byID {
		if (c.Status == domain.StatusCreated || c.Status == domain.StatusDistributed) && c.ExpiresAt.Before(now) {
			out = append(out, cloneCoupon(c))
		}
	}
	return out, nil
}

func (r *memCouponRepo) MarkExpired(_ context.Context, ids []int64, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var affected int64
	for _, id := range ids {
		c, ok := r.byID[id]
		if !ok {
			continue
		}
		if (c.Status == domain.StatusCreated || c.Status == domain.StatusDistributed) && c.ExpiresAt.Before(now) {
			c.Status = domain.StatusExpired
			affected++
		}
	}
	return affected, nil
}

func (r *memCouponRepo) FindExpiringSoon(_ context.Context, now time.Time, horizon time.Duration) ([]*domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Coupon
	limit := now.Add(horizon)
	for _, c := range r.byID {
		if c.Status == domain.StatusDistributed && c.ExpiresAt.After(now) && c.ExpiresAt.Before(limit) {
			out = append(out, cloneCoupon(c))
		}
	}
	return out, nil
}

type memBatchRepo struct {
	mu      sync.Mutex
	coupons *memCouponRepo
	byID    map[int64]*domain.CouponBatch
	nextID  int64
}

func newMemBatchRepo(coupons *memCouponRepo) *memBatchRepo {
	return &memBatchRepo{coupons: coupons, byID: make(map[int64]*domain.CouponBatch)}
}

func (r *memBatchRepo) CreateWithCoupons(ctx context.Context, batch *domain.CouponBatch, coupons []*domain.Coupon) error {
	r.mu.Lock()
	r.nextID++
	batch.ID = r.nextID
	cp := *batch
	r.byID[batch.ID] = &cp
	r.mu.Unlock()

	for _, c := range coupons {
		id := batch.ID
		c.BatchID = &id
		if err := r.coupons.Create(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *memBatchRepo) FindByID(_ context.Context, id int64) (*domain.CouponBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *memBatchRepo) FindByCode(_ context.Context, code string) (*domain.CouponBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.byID {
		if b.Code == code {
			cp := *b
			return &cp, nil
		}
	}
	return nil, domain.ErrBatchNotFound
}

func (r *memBatchRepo) UpdateStatus(_ context.Context, id int64, status domain.BatchStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byID[id]; ok {
		b.Status = status
	}
	return nil
}

// capturingPublisher 记录所有发布的事件。
type capturingPublisher struct {
	mu          sync.Mutex
	distributed []*domain.CouponDistributedEvent
	used        []*domain.CouponUsedEvent
	cancelled   []*domain.CouponCancelledEvent
	expired     []*domain.CouponsExpiredEvent
	warnings    []*domain.ExpiryWarningEvent
}

func (p *capturingPublisher) PublishDistributed(_ context.Context, e *domain.CouponDistributedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.distributed = append(p.distributed, e)
	return nil
}

func (p *capturingPublisher) PublishUsed(_ context.Context, e *domain.CouponUsedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.used = append(p.used, e)
	return nil
}

func (p *capturingPublisher) PublishCancelled(_ context.Context, e *domain.CouponCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return nil
}

func (p *capturingPublisher) PublishExpired(_ context.Context, e *domain.CouponsExpiredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expired = append(p.expired, e)
	return nil
}

func (p *capturingPublisher) PublishExpiryWarning(_ context.Context, e *domain.ExpiryWarningEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.warnings = append(p.warnings, e)
	return nil
}

// stubRules 按预设回答评估规则。
type stubRules struct {
	result bool
	err    error
	called int
}

func (s *stubRules) Evaluate(string, map[string]interface{}) (bool, error) {
	s.called++
	return s.result, s.err
}

func newTestLedger(t *testing.T) (*application.LedgerService, *memCouponRepo, *memBatchRepo, *capturingPublisher, *stubRules) {
	t.Helper()
	coupons := newMemCouponRepo()
	batches := newMemBatchRepo(coupons)
	publisher := &capturingPublisher{}
	rules := &stubRules{result: true}
	svc := application.NewLedgerService(coupons, batches, publisher, rules, otel.Tracer("test"))
	return svc, coupons, batches, publisher, rules
}

// =============================================================================
// 场景测试
// =============================================================================

func TestLedger_FullRedemptionScenario(t *testing.T) {
	// 创建 FIXED_AMOUNT 25 → 发放给患者 42 → 校验 fee=100 → 核销(case=7, payment=99)
	// → 第二次核销必须失败
	svc, _, _, publisher, _ := newTestLedger(t)
	ctx := context.Background()

	coupon, err := svc.CreateCoupon(ctx, &application.CreateCouponRequest{
		DiscountType:  domain.DiscountFixedAmount,
		DiscountValue: 25,
		Currency:      "EUR",
		ExpiresAt:     time.Now().AddDate(0, 0, 30),
		CreatedBy:     1,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, coupon.Status)
	assert.Nil(t, coupon.Beneficiary)

	distributed, err := svc.Distribute(ctx, &application.DistributeRequest{
		CouponID:        coupon.ID,
		BeneficiaryKind: domain.BeneficiaryPatient,
		BeneficiaryID:   42,
		DistributedBy:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDistributed, distributed.Status)
	require.Len(t, publisher.distributed, 1)
	assert.Equal(t, coupon.Code, publisher.distributed[0].CouponCode)

	result, err := svc.Validate(ctx, &application.ValidateRequest{
		Code:            coupon.Code,
		BeneficiaryKind: domain.BeneficiaryPatient,
		BeneficiaryID:   42,
		Fee:             100,
	})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.InDelta(t, 25, result.DiscountAmount, 1e-9)
	assert.InDelta(t, 75, result.RemainingAmount, 1e-9)

	confirmed, err := svc.ConfirmUse(ctx, &application.ConfirmUseRequest{
		Code:           coupon.Code,
		CaseID:         7,
		PaymentID:      99,
		PatientID:      42,
		UsedByUserID:   42,
		OriginalAmount: 100,
	})
	require.NoError(t, err)
	assert.InDelta(t, 25, confirmed.DiscountAmount, 1e-9)
	assert.InDelta(t, 75, confirmed.ChargedAmount, 1e-9)

	// 不变式：USED 当且仅当核销字段全部非空
	after, err := svc.GetCoupon(ctx, coupon.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUsed, after.Status)
	require.NotNil(t, after.UsedAt)
	require.NotNil(t, after.UsedForCaseID)
	require.NotNil(t, after.UsedForPaymentID)
	assert.Equal(t, int64(7), *after.UsedForCaseID)
	assert.Equal(t, int64(99), *after.UsedForPaymentID)

	require.Len(t, publisher.used, 1)
	assert.InDelta(t, 25, publisher.used[0].DiscountAmount, 1e-9)
	assert.InDelta(t, 75, publisher.used[0].ChargedAmount, 1e-9)
	assert.Equal(t, int64(7), publisher.used[0].CaseID)

	_, err = svc.ConfirmUse(ctx, &application.ConfirmUseRequest{
		Code:           coupon.Code,
		CaseID:         8,
		PaymentID:      100,
		OriginalAmount: 100,
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyRedeemed)
	require.Len(t, publisher.used, 1, "losing confirm must not publish an event")
}

func TestLedger_ConcurrentConfirmUse_ExactlyOneWins(t *testing.T) {
	svc, _, _, publisher, _ := newTestLedger(t)
	ctx := context.Background()

	coupon, err := svc.CreateCoupon(ctx, &application.CreateCouponRequest{
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: 10,
		Currency:      "EUR",
		ExpiresAt:     time.Now().Add(time.Hour),
		CreatedBy:     1,
	})
	require.NoError(t, err)
	_, err = svc.Distribute(ctx, &application.DistributeRequest{
		CouponID:        coupon.ID,
		BeneficiaryKind: domain.BeneficiaryPatient,
		BeneficiaryID:   42,
		DistributedBy:   1,
	})
	require.NoError(t, err)

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ConfirmUse(ctx, &application.ConfirmUseRequest{
				Code:           coupon.Code,
				CaseID:         int64(1000 + i),
				PaymentID:      int64(2000 + i),
				OriginalAmount: 100,
			})
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, domain.ErrAlreadyRedeemed):
			conflicts++
		}
	}
	assert.Equal(t, 1, wins, "exactly one confirm must win")
	assert.Equal(t, n-1, conflicts)
	assert.Len(t, publisher.used, 1)
}

func TestLedger_Validate_TypedReasons(t *testing.T) {
	svc, _, _, _, _ := newTestLedger(t)
	ctx := context.Background()
	patient := domain.BeneficiaryPatient

	t.Run("not found", func(t *testing.T) {
		result, err := svc.Validate(ctx, &application.ValidateRequest{Code: "CMC-MISSING", BeneficiaryKind: patient, BeneficiaryID: 1, Fee: 50})
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, application.ReasonNotFound, result.Reason)
	})

	t.Run("not distributed", func(t *testing.T) {
		coupon, err := svc.CreateCoupon(ctx, &application.CreateCouponRequest{
			DiscountType: domain.DiscountFullCoverage, Currency: "EUR",
			ExpiresAt: time.Now().Add(time.Hour), CreatedBy: 1,
		})
		require.NoError(t, err)
		result, err := svc.Validate(ctx, &application.ValidateRequest{Code: coupon.Code, BeneficiaryKind: patient, BeneficiaryID: 1, Fee: 50})
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, application.ReasonNotDistributed, result.Reason)
	})

	t.Run("expired", func(t *testing.T) {
		coupon, err := svc.CreateCoupon(ctx, &application.CreateCouponRequest{
			DiscountType: domain.DiscountFullCoverage, Currency: "EUR",
			ExpiresAt: time.Now().Add(50 * time.Millisecond), CreatedBy: 1,
		})
		require.NoError(t, err)
		_, err = svc.Distribute(ctx, &application.DistributeRequest{CouponID: coupon.ID, BeneficiaryKind: patient, BeneficiaryID: 1, DistributedBy: 1})
		require.NoError(t, err)
		time.Sleep(60 * time.Millisecond)

		result, err := svc.Validate(ctx, &application.ValidateRequest{Code: coupon.Code, BeneficiaryKind: patient, BeneficiaryID: 1, Fee: 50})
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, application.ReasonExpired, result.Reason)
	})

	t.Run("beneficiary mismatch", func(t *testing.T) {
		coupon, err := svc.CreateCoupon(ctx, &application.CreateCouponRequest{
			DiscountType: domain.DiscountFullCoverage, Currency: "EUR",
			ExpiresAt: time.Now().Add(time.Hour), CreatedBy: 1,
		})
		require.NoError(t, err)
		_, err = svc.Distribute(ctx, &application.DistributeRequest{CouponID: coupon.ID, BeneficiaryKind: patient, BeneficiaryID: 1, DistributedBy: 1})
		require.NoError(t, err)

		result, err := svc.Validate(ctx, &application.ValidateRequest{Code: coupon.Code, BeneficiaryKind: patient, BeneficiaryID: 2, Fee: 50})
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, application.ReasonBeneficiaryMismatch, result.Reason)
	})
}

func TestLedger_Validate_IsRepeatable(t *testing.T) {
	svc, _, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	coupon, err := svc.CreateCoupon(ctx, &application.CreateCouponRequest{
		DiscountType: domain.DiscountPercentage, DiscountValue: 20, Currency: "EUR",
		ExpiresAt: time.Now().Add(time.Hour), CreatedBy: 1,
	})
	require.NoError(t, err)
	_, err = svc.Distribute(ctx, &application.DistributeRequest{CouponID: coupon.ID, BeneficiaryKind: domain.BeneficiaryPatient, BeneficiaryID: 5, DistributedBy: 1})
	require.NoError(t, err)

	// 校验是只读的：重复调用不消耗券
	for i := 0; i < 5; i++ {
		result, err := svc.Validate(ctx, &application.ValidateRequest{Code: coupon.Code, BeneficiaryKind: domain.BeneficiaryPatient, BeneficiaryID: 5, Fee: 100})
		require.NoError(t, err)
		require.True(t, result.Valid)
	}
	after, err := svc.GetCoupon(ctx, coupon.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDistributed, after.Status)
}

func TestLedger_Validate_EligibilityRule(t *testing.T) {
	svc, _, _, _, rules := newTestLedger(t)
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, &application.CreateBatchRequest{
		Count: 1, DiscountType: domain.DiscountFixedAmount, DiscountValue: 10,
		Currency: "EUR", ExpiryDays: 30, EligibilityRule: "fee >= 50.0",
		BeneficiaryKind: domain.BeneficiaryPatient, BeneficiaryID: 9, CreatedBy: 1,
	})
	require.NoError(t, err)
	_, err = svc.DistributeBatch(ctx, &application.DistributeBatchRequest{BatchID: batch.BatchID, DistributedBy: 1})
	require.NoError(t, err)

	rules.result = false
	result, err := svc.Validate(ctx, &application.ValidateRequest{
		Code: batch.CouponCodes[0], BeneficiaryKind: domain.BeneficiaryPatient, BeneficiaryID: 9, Fee: 20,
	})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, application.ReasonNotEligible, result.Reason)
	assert.Equal(t, 1, rules.called)
}

func TestLedger_Validate_RuleEngineError_FailsClosed(t *testing.T) {
	svc, _, _, _, rules := newTestLedger(t)
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, &application.CreateBatchRequest{
		Count: 1, DiscountType: domain.DiscountFixedAmount, DiscountValue: 10,
		Currency: "EUR", ExpiryDays: 30, EligibilityRule: "fee >>= oops",
		BeneficiaryKind: domain.BeneficiaryPatient, BeneficiaryID: 9, CreatedBy: 1,
	})
	require.NoError(t, err)
	_, err = svc.DistributeBatch(ctx, &application.DistributeBatchRequest{BatchID: batch.BatchID, DistributedBy: 1})
	require.NoError(t, err)

	// 规则执行失败时校验按不适用拒绝，不把错误抛给支付路径
	rules.err = errors.New("compile failed")
	result, err := svc.Validate(ctx, &application.ValidateRequest{
		Code: batch.CouponCodes[0], BeneficiaryKind: domain.BeneficiaryPatient, BeneficiaryID: 9, Fee: 100,
	})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, application.ReasonNotEligible, result.Reason)
}

func TestLedger_Cancel(t *testing.T) {
	svc, _, _, publisher, _ := newTestLedger(t)
	ctx := context.Background()

	t.Run("cancel distributed publishes event", func(t *testing.T) {
		coupon, err := svc.CreateCoupon(ctx, &application.CreateCouponRequest{
			DiscountType: domain.DiscountFixedAmount, DiscountValue: 5, Currency: "EUR",
			ExpiresAt: time.Now().Add(time.Hour), CreatedBy: 1,
		})
		require.NoError(t, err)
		_, err = svc.Distribute(ctx, &application.DistributeRequest{CouponID: coupon.ID, BeneficiaryKind: domain.BeneficiarySupervisor, BeneficiaryID: 3, DistributedBy: 1})
		require.NoError(t, err)

		err = svc.Cancel(ctx, &application.CancelRequest{CouponID: coupon.ID, Reason: "duplicate issue", CancelledBy: 1})
		require.NoError(t, err)
		require.Len(t, publisher.cancelled, 1)
		assert.Equal(t, "duplicate issue", publisher.cancelled[0].Reason)
	})

	t.Run("cancel used coupon is an error", func(t *testing.T) {
		coupon, err := svc.CreateCoupon(ctx, &application.CreateCouponRequest{
			DiscountType: domain.DiscountFixedAmount, DiscountValue: 5, Currency: "EUR",
			ExpiresAt: time.Now().Add(time.Hour), CreatedBy: 1,
		})
		require.NoError(t, err)
		_, err = svc.Distribute(ctx, &application.DistributeRequest{CouponID: coupon.ID, BeneficiaryKind: domain.BeneficiaryPatient, BeneficiaryID: 4, DistributedBy: 1})
		require.NoError(t, err)
		_, err = svc.ConfirmUse(ctx, &application.ConfirmUseRequest{Code: coupon.Code, CaseID: 1, PaymentID: 1, OriginalAmount: 10})
		require.NoError(t, err)

		err = svc.Cancel(ctx, &application.CancelRequest{CouponID: coupon.ID, Reason: "too late", CancelledBy: 1})
		assert.ErrorIs(t, err, domain.ErrInvalidState)

		after, err := svc.GetCoupon(ctx, coupon.Code)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusUsed, after.Status)
	})

	t.Run("cancel unknown coupon", func(t *testing.T) {
		err := svc.Cancel(ctx, &application.CancelRequest{CouponID: 99999, Reason: "r", CancelledBy: 1})
		assert.ErrorIs(t, err, domain.ErrCouponNotFound)
	})
}

func TestLedger_BatchOperations_PartialApplication(t *testing.T) {
	svc, _, _, publisher, _ := newTestLedger(t)
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, &application.CreateBatchRequest{
		Count: 3, DiscountType: domain.DiscountFixedAmount, DiscountValue: 10,
		Currency: "EUR", ExpiryDays: 30, CreatedBy: 1,
	})
	require.NoError(t, err)
	require.Len(t, batch.CouponCodes, 3)

	// 先把一张券单独作废，批量发放应跳过它而不是中止
	first, err := svc.GetCoupon(ctx, batch.CouponCodes[0])
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, &application.CancelRequest{CouponID: first.ID, Reason: "spoiled", CancelledBy: 1}))

	affected, err := svc.DistributeBatch(ctx, &application.DistributeBatchRequest{
		BatchID: batch.BatchID, BeneficiaryKind: domain.BeneficiarySupervisor, BeneficiaryID: 8, DistributedBy: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)
	assert.Len(t, publisher.distributed, 2)

	// 批量作废只影响仍可作废的两张
	cancelled, err := svc.CancelBatch(ctx, &application.CancelBatchRequest{BatchID: batch.BatchID, Reason: "program ended", CancelledBy: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), cancelled)
}
