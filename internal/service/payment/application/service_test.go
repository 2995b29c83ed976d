package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"caremesh/internal/service/payment/application"
	"caremesh/internal/service/payment/domain"
	"caremesh/internal/service/payment/domain/port"
)

type fakeLedger struct {
	mu           sync.Mutex
	validateFn   func(*port.LedgerValidateRequest) (*port.LedgerValidateReply, error)
	confirmFn    func(*port.LedgerConfirmRequest) (*port.LedgerConfirmReply, error)
	couponState  *port.LedgerCouponState
	stateErr     error
	confirmCalls int
}

func (f *fakeLedger) Validate(_ context.Context, req *port.LedgerValidateRequest) (*port.LedgerValidateReply, error) {
	return f.validateFn(req)
}

func (f *fakeLedger) ConfirmUse(_ context.Context, req *port.LedgerConfirmRequest) (*port.LedgerConfirmReply, error) {
	f.mu.Lock()
	f.confirmCalls++
	f.mu.Unlock()
	return f.confirmFn(req)
}

func (f *fakeLedger) GetCoupon(context.Context, string) (*port.LedgerCouponState, error) {
	return f.couponState, f.stateErr
}

type fakeRefunds struct {
	mu       sync.Mutex
	requests []*port.RefundRequest
	err      error
}

func (f *fakeRefunds) RequestRefund(_ context.Context, req *port.RefundRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

type memRedemptionRepo struct {
	mu       sync.Mutex
	byCaseID map[int64]*domain.RedemptionRecord
	nextID   int64
}

func newMemRedemptionRepo() *memRedemptionRepo {
	return &memRedemptionRepo{byCaseID: make(map[int64]*domain.RedemptionRecord)}
}

func (r *memRedemptionRepo) Create(_ context.Context, record *domain.RedemptionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCaseID[record.CaseID]; ok {
		return domain.ErrDuplicateRedemption
	}
	r.nextID++
	record.ID = r.nextID
	cp := *record
	r.byCaseID[record.CaseID] = &cp
	return nil
}

func (r *memRedemptionRepo) FindByCaseID(_ context.Context, caseID int64) (*domain.RedemptionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byCaseID[caseID]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	cp := *record
	return &cp, nil
}

func newCoordinator(ledger *fakeLedger, refunds *fakeRefunds, repo *memRedemptionRepo) *application.RedemptionCoordinator {
	return application.NewRedemptionCoordinator(
		ledger, refunds, repo, otel.Tracer("test"),
		2*time.Second, 5*time.Second,
	)
}

func redeemReq() *application.RedeemCouponRequest {
	return &application.RedeemCouponRequest{
		Code:           "CMC-X",
		CaseID:         7,
		PaymentID:      99,
		PatientID:      42,
		UsedByUserID:   42,
		OriginalAmount: 100,
		DiscountAmount: 25,
		Currency:       "EUR",
	}
}

func TestValidateCoupon_PassesThroughLedgerResult(t *testing.T) {
	ledger := &fakeLedger{
		validateFn: func(req *port.LedgerValidateRequest) (*port.LedgerValidateReply, error) {
			assert.Equal(t, "CMC-X", req.Code)
			return &port.LedgerValidateReply{Valid: true, Currency: "EUR", DiscountAmount: 25, RemainingAmount: 75}, nil
		},
	}
	coordinator := newCoordinator(ledger, &fakeRefunds{}, newMemRedemptionRepo())

	result, err := coordinator.ValidateCoupon(context.Background(), &application.ValidateCouponRequest{
		Code: "CMC-X", BeneficiaryKind: "PATIENT", BeneficiaryID: 42, Fee: 100,
	})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.InDelta(t, 25, result.DiscountAmount, 1e-9)
	assert.InDelta(t, 75, result.RemainingAmount, 1e-9)
}

func TestValidateCoupon_LedgerDown_IsRetryable(t *testing.T) {
	ledger := &fakeLedger{
		validateFn: func(*port.LedgerValidateRequest) (*port.LedgerValidateReply, error) {
			return nil, domain.ErrLedgerUnavailable
		},
	}
	coordinator := newCoordinator(ledger, &fakeRefunds{}, newMemRedemptionRepo())

	_, err := coordinator.ValidateCoupon(context.Background(), &application.ValidateCouponRequest{Code: "CMC-X", Fee: 100})
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
}

func TestRedeemCoupon_Success_WritesOneRecord(t *testing.T) {
	now := time.Now()
	ledger := &fakeLedger{
		confirmFn: func(req *port.LedgerConfirmRequest) (*port.LedgerConfirmReply, error) {
			return &port.LedgerConfirmReply{
				CouponCode: req.Code, DiscountAmount: 25, ChargedAmount: 75, UsedAt: now,
			}, nil
		},
	}
	repo := newMemRedemptionRepo()
	coordinator := newCoordinator(ledger, &fakeRefunds{}, repo)

	result, err := coordinator.RedeemCoupon(context.Background(), redeemReq())
	require.NoError(t, err)
	assert.InDelta(t, 25, result.DiscountAmount, 1e-9)
	assert.InDelta(t, 75, result.ChargedAmount, 1e-9)

	record, err := repo.FindByCaseID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "CMC-X", record.CouponCode)
	assert.Equal(t, int64(99), record.PaymentID)
	assert.InDelta(t, 100, record.OriginalAmount, 1e-9)
	// 流水是审计凭证，必须记下是谁核销的
	assert.Equal(t, int64(42), record.RedeemedBy)
}

func TestRedeemCoupon_Conflict_TriggersRefund(t *testing.T) {
	winner := int64(555) // 赢家是另一笔问诊
	ledger := &fakeLedger{
		confirmFn: func(*port.LedgerConfirmRequest) (*port.LedgerConfirmReply, error) {
			return nil, domain.ErrCouponConflict
		},
		couponState: &port.LedgerCouponState{Code: "CMC-X", Status: "USED", UsedForCaseID: &winner},
	}
	refunds := &fakeRefunds{}
	repo := newMemRedemptionRepo()
	coordinator := newCoordinator(ledger, refunds, repo)

	_, err := coordinator.RedeemCoupon(context.Background(), redeemReq())
	assert.ErrorIs(t, err, domain.ErrCouponConflict)

	require.Len(t, refunds.requests, 1)
	refund := refunds.requests[0]
	assert.InDelta(t, 25, refund.Amount, 1e-9, "refund equals the discount granted at charge time")
	assert.Equal(t, int64(99), refund.PaymentID)

	// 输掉竞争的支付不得留下核销流水
	_, err = repo.FindByCaseID(context.Background(), 7)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestRedeemCoupon_ConflictFromOwnRetry_IsIdempotentSuccess(t *testing.T) {
	// 第一次 confirm 超时但实际成功；重试拿到冲突，
	// 账本上 usedForCaseId 是本单 → 幂等成功，绝不能退款
	ownCase := int64(7)
	ledger := &fakeLedger{
		confirmFn: func(*port.LedgerConfirmRequest) (*port.LedgerConfirmReply, error) {
			return nil, domain.ErrCouponConflict
		},
		couponState: &port.LedgerCouponState{Code: "CMC-X", Status: "USED", UsedForCaseID: &ownCase},
	}
	refunds := &fakeRefunds{}
	repo := newMemRedemptionRepo()
	coordinator := newCoordinator(ledger, refunds, repo)

	result, err := coordinator.RedeemCoupon(context.Background(), redeemReq())
	require.NoError(t, err)
	assert.InDelta(t, 25, result.DiscountAmount, 1e-9)
	assert.Empty(t, refunds.requests)

	// 补写的流水存在且唯一
	record, err := repo.FindByCaseID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "CMC-X", record.CouponCode)
	assert.Equal(t, int64(42), record.RedeemedBy)
}

func TestRedeemCoupon_ConflictResolutionUnavailable_NoRefund(t *testing.T) {
	ledger := &fakeLedger{
		confirmFn: func(*port.LedgerConfirmRequest) (*port.LedgerConfirmReply, error) {
			return nil, domain.ErrCouponConflict
		},
		stateErr: domain.ErrLedgerUnavailable,
	}
	refunds := &fakeRefunds{}
	coordinator := newCoordinator(ledger, refunds, newMemRedemptionRepo())

	_, err := coordinator.RedeemCoupon(context.Background(), redeemReq())
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
	assert.Empty(t, refunds.requests, "must not refund while the winner is unknown")
}

func TestRedeemCoupon_LedgerTimeout_IsRetryable(t *testing.T) {
	ledger := &fakeLedger{
		confirmFn: func(*port.LedgerConfirmRequest) (*port.LedgerConfirmReply, error) {
			return nil, domain.ErrLedgerUnavailable
		},
	}
	coordinator := newCoordinator(ledger, &fakeRefunds{}, newMemRedemptionRepo())

	_, err := coordinator.RedeemCoupon(context.Background(), redeemReq())
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
}

func TestRedeemCoupon_Rejected_NoRefundNoRecord(t *testing.T) {
	ledger := &fakeLedger{
		confirmFn: func(*port.LedgerConfirmRequest) (*port.LedgerConfirmReply, error) {
			return nil, domain.ErrCouponRejected
		},
	}
	refunds := &fakeRefunds{}
	repo := newMemRedemptionRepo()
	coordinator := newCoordinator(ledger, refunds, repo)

	_, err := coordinator.RedeemCoupon(context.Background(), redeemReq())
	assert.ErrorIs(t, err, domain.ErrCouponRejected)
	assert.Empty(t, refunds.requests)
	_, err = repo.FindByCaseID(context.Background(), 7)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestRedeemCoupon_DuplicateRecord_ReturnsExisting(t *testing.T) {
	now := time.Now()
	ledger := &fakeLedger{
		confirmFn: func(req *port.LedgerConfirmRequest) (*port.LedgerConfirmReply, error) {
			return &port.LedgerConfirmReply{CouponCode: req.Code, DiscountAmount: 25, ChargedAmount: 75, UsedAt: now}, nil
		},
	}
	repo := newMemRedemptionRepo()
	require.NoError(t, repo.Create(context.Background(), &domain.RedemptionRecord{
		CaseID: 7, PaymentID: 99, CouponCode: "CMC-X",
		OriginalAmount: 100, DiscountAmount: 25, ChargedAmount: 75, RedeemedAt: now,
	}))
	coordinator := newCoordinator(ledger, &fakeRefunds{}, repo)

	result, err := coordinator.RedeemCoupon(context.Background(), redeemReq())
	require.NoError(t, err)
	assert.InDelta(t, 25, result.DiscountAmount, 1e-9)
}
