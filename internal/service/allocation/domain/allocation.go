// internal/service/allocation/domain/allocation.go
package domain

import (
	"errors"
	"time"
)

// AllocationStatus 是副本侧的券状态。比账本多一个 ASSIGNED：
// 把券预留给某次问诊是纯本地操作，账本对此无感知。
type AllocationStatus string

const (
	StatusAvailable AllocationStatus = "AVAILABLE"
	StatusAssigned  AllocationStatus = "ASSIGNED"
	StatusUsed      AllocationStatus = "USED"
	StatusCancelled AllocationStatus = "CANCELLED"
	StatusExpired   AllocationStatus = "EXPIRED"
)

// OwnerKind 标识持有副本的服务面向哪类用户。
type OwnerKind string

const (
	OwnerSupervisor OwnerKind = "SUPERVISOR"
	OwnerPatient    OwnerKind = "PATIENT"
)

var (
	ErrAllocationNotFound = errors.New("allocation not found")
	ErrNotAssignable      = errors.New("allocation is not assignable")
	ErrStaleEvent         = errors.New("event is older than last synced state")
)

// precedence 决定乱序事件的合并结果：USED > CANCELLED > EXPIRED。
// 账本保证一张券只有一个终态，但事件可能乱序到达，
// 副本必须收敛到账本的终态而不是最后一个到达的事件。
func precedence(s AllocationStatus) int {
	switch s {
	case StatusUsed:
		return 3
	case StatusCancelled:
		return 2
	case StatusExpired:
		return 1
	default: // AVAILABLE / ASSIGNED
		return 0
	}
}

// Allocation 是某张券在本服务内的物化副本。
// 它不是权威数据：所有字段都来自账本事件，唯一的本地状态是
// AssignedToCaseID（把券预留给某次问诊）。
type Allocation struct {
	ID         int64
	CouponCode string
	OwnerKind  OwnerKind
	OwnerID    int64

	Status AllocationStatus

	DiscountType  string
	DiscountValue float64
	MaxDiscount   *float64
	Currency      string

	ExpiresAt time.Time

	// 本地预留，不回流账本
	AssignedToCaseID *int64

	UsedAt        *time.Time
	UsedForCaseID *int64

	DistributedAt time.Time
	LastEventID   string
	LastSyncedAt  time.Time
}

// IsTerminal 副本侧终态与账本一致。
func (a *Allocation) IsTerminal() bool {
	return a.Status == StatusUsed || a.Status == StatusCancelled || a.Status == StatusExpired
}

// apply 是所有事件应用的公共守卫。返回 false 表示事件被忽略（幂等或被优先级压制）。
//
// 规则：
//   - 同一 EventID 重放 → 忽略（消费侧还有 Redis 去重，这里是最后一道防线）
//   - 新状态优先级低于当前状态 → 忽略（如 expired 晚于 used 到达）
//   - 新状态优先级相同且事件时间早于 lastSyncedAt → ErrStaleEvent
func (a *Allocation) apply(eventID string, eventTime time.Time, next AllocationStatus) (bool, error) {
	if eventID != "" && eventID == a.LastEventID {
		return false, nil
	}
	cur, nxt := precedence(a.Status), precedence(next)
	if nxt < cur {
		return false, nil
	}
	if nxt == cur && a.IsTerminal() {
		return false, nil
	}
	if nxt == cur && eventTime.Before(a.LastSyncedAt) {
		return false, ErrStaleEvent
	}
	a.Status = next
	a.LastEventID = eventID
	a.LastSyncedAt = eventTime
	return true, nil
}

// ApplyDistributed 应用发放事件。对已是终态的副本是 no-op：
// distributed 永远不能把券从终态拉回来，也不能冲掉本地预留。
func (a *Allocation) ApplyDistributed(eventID string, eventTime time.Time) (bool, error) {
	if a.Status == StatusAssigned {
		return false, nil
	}
	return a.apply(eventID, eventTime, StatusAvailable)
}

// ApplyUsed 应用核销事件。USED 压倒一切先到的终态。
func (a *Allocation) ApplyUsed(eventID string, eventTime time.Time, usedAt time.Time, caseID int64) (bool, error) {
	changed, err := a.apply(eventID, eventTime, StatusUsed)
	if err != nil || !changed {
		return changed, err
	}
	at := usedAt
	a.UsedAt = &at
	a.UsedForCaseID = &caseID
	a.AssignedToCaseID = nil
	return true, nil
}

// ApplyCancelled 应用作废事件。已核销的副本保持 USED。
func (a *Allocation) ApplyCancelled(eventID string, eventTime time.Time) (bool, error) {
	changed, err := a.apply(eventID, eventTime, StatusCancelled)
	if err != nil || !changed {
		return changed, err
	}
	a.AssignedToCaseID = nil
	return true, nil
}

// ApplyExpired 应用过期事件。优先级最低：对 USED / CANCELLED 的副本都是 no-op。
func (a *Allocation) ApplyExpired(eventID string, eventTime time.Time) (bool, error) {
	changed, err := a.apply(eventID, eventTime, StatusExpired)
	if err != nil || !changed {
		return changed, err
	}
	a.AssignedToCaseID = nil
	return true, nil
}

// Assign 把可用的券预留给一次问诊。纯本地操作，不产生账本迁移。
func (a *Allocation) Assign(caseID int64) error {
	if a.Status != StatusAvailable {
		return ErrNotAssignable
	}
	a.Status = StatusAssigned
	a.AssignedToCaseID = &caseID
	return nil
}

// Unassign 释放预留，回到 AVAILABLE。
func (a *Allocation) Unassign() error {
	if a.Status != StatusAssigned {
		return ErrNotAssignable
	}
	a.Status = StatusAvailable
	a.AssignedToCaseID = nil
	return nil
}
