package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAvailable() *Allocation {
	return &Allocation{
		CouponCode:    "CMC-TEST",
		OwnerKind:     OwnerPatient,
		OwnerID:       42,
		Status:        StatusAvailable,
		DiscountType:  "FIXED_AMOUNT",
		DiscountValue: 25,
		Currency:      "EUR",
		ExpiresAt:     time.Now().Add(24 * time.Hour),
		DistributedAt: time.Now().Add(-time.Hour),
		LastEventID:   "evt-dist",
		LastSyncedAt:  time.Now().Add(-time.Hour),
	}
}

func TestApplyUsed_IsIdempotent(t *testing.T) {
	a := newAvailable()
	now := time.Now()

	changed, err := a.ApplyUsed("evt-used", now, now, 7)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, StatusUsed, a.Status)
	require.NotNil(t, a.UsedForCaseID)
	assert.Equal(t, int64(7), *a.UsedForCaseID)

	// 同一事件重放：应用两次等于应用一次
	changed, err = a.ApplyUsed("evt-used", now, now, 7)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, StatusUsed, a.Status)
}

func TestPrecedence_UsedBeatsCancelledAndExpired(t *testing.T) {
	t.Run("expired after used is ignored", func(t *testing.T) {
		a := newAvailable()
		now := time.Now()
		_, err := a.ApplyUsed("evt-used", now, now, 7)
		require.NoError(t, err)

		changed, err := a.ApplyExpired("evt-exp", now.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, StatusUsed, a.Status)
	})

	t.Run("used after expired overrides", func(t *testing.T) {
		a := newAvailable()
		now := time.Now()
		_, err := a.ApplyExpired("evt-exp", now)
		require.NoError(t, err)
		require.Equal(t, StatusExpired, a.Status)

		// 账本的守卫保证 used 才是真正的终态，副本必须收敛到它
		changed, err := a.ApplyUsed("evt-used", now.Add(-time.Minute), now.Add(-time.Minute), 7)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, StatusUsed, a.Status)
	})

	t.Run("cancelled after used is ignored", func(t *testing.T) {
		a := newAvailable()
		now := time.Now()
		_, err := a.ApplyUsed("evt-used", now, now, 7)
		require.NoError(t, err)

		changed, err := a.ApplyCancelled("evt-cxl", now.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, StatusUsed, a.Status)
	})

	t.Run("expired after cancelled is ignored", func(t *testing.T) {
		a := newAvailable()
		now := time.Now()
		_, err := a.ApplyCancelled("evt-cxl", now)
		require.NoError(t, err)

		changed, err := a.ApplyExpired("evt-exp", now.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, StatusCancelled, a.Status)
	})
}

func TestApplyDistributed(t *testing.T) {
	t.Run("cannot resurrect a terminal allocation", func(t *testing.T) {
		a := newAvailable()
		now := time.Now()
		_, err := a.ApplyExpired("evt-exp", now)
		require.NoError(t, err)

		changed, err := a.ApplyDistributed("evt-dist-replay", now.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, StatusExpired, a.Status)
	})

	t.Run("stale distributed is rejected", func(t *testing.T) {
		a := newAvailable()
		changed, err := a.ApplyDistributed("evt-dist-old", a.LastSyncedAt.Add(-time.Hour))
		assert.ErrorIs(t, err, ErrStaleEvent)
		assert.False(t, changed)
	})
}

func TestLocalAssignment(t *testing.T) {
	a := newAvailable()

	require.NoError(t, a.Assign(7))
	assert.Equal(t, StatusAssigned, a.Status)
	require.NotNil(t, a.AssignedToCaseID)

	// 预留中的券不能再次预留
	assert.ErrorIs(t, a.Assign(8), ErrNotAssignable)

	require.NoError(t, a.Unassign())
	assert.Equal(t, StatusAvailable, a.Status)
	assert.Nil(t, a.AssignedToCaseID)
	assert.ErrorIs(t, a.Unassign(), ErrNotAssignable)
}

func TestLocalAssignment_ClearedByTerminalEvents(t *testing.T) {
	a := newAvailable()
	require.NoError(t, a.Assign(7))

	now := time.Now()
	changed, err := a.ApplyUsed("evt-used", now, now, 7)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Nil(t, a.AssignedToCaseID, "terminal event releases the local reservation")
}
