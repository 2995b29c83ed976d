// internal/pkg/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
)

const lockRoot = "/caremesh/locks"

// DistributedLock 基于临时顺序节点实现的分布式互斥锁。
// 过期扫描器用它做 leader 选举，保证同一时刻只有一个实例在跑扫描。
type DistributedLock struct {
	conn     *Conn
	path     string
	lockNode string
}

// NewDistributedLock 为某个资源创建一个分布式锁实例。
func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	if err := conn.EnsurePath("/caremesh"); err != nil {
		return nil, fmt.Errorf("failed to ensure lock root: %w", err)
	}
	if err := conn.EnsurePath(lockRoot); err != nil {
		return nil, fmt.Errorf("failed to ensure lock root: %w", err)
	}
	lockPath := lockRoot + "/" + resourceID
	if err := conn.EnsurePath(lockPath); err != nil {
		return nil, fmt.Errorf("failed to ensure lock path %s: %w", lockPath, err)
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

// Lock 尝试获取锁，获取不到时阻塞等待，直到 ctx 被取消。
func (l *DistributedLock) Lock(ctx context.Context) error {
	// 创建临时顺序节点；会话断开后节点自动删除，锁随之释放
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte{}, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath

	for {
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			return fmt.Errorf("failed to list lock children: %w", err)
		}
		sort.Strings(children)

		myNode := strings.TrimPrefix(l.lockNode, l.path+"/")
		if len(children) > 0 && myNode == children[0] {
			// 自己是序号最小的节点，获得锁
			return nil
		}

		// 只监听排在自己前面的那个节点，避免惊群
		prev := ""
		for i, child := range children {
			if child == myNode && i > 0 {
				prev = children[i-1]
				break
			}
		}
		if prev == "" {
			return errors.New("lock node missing from children list")
		}

		_, _, eventChan, err := l.conn.ExistsW(l.path + "/" + prev)
		if err != nil {
			if err == zk.ErrNoNode {
				// 前一个节点刚好被删除，重新竞争
				continue
			}
			return fmt.Errorf("failed to watch previous node: %w", err)
		}

		select {
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-ctx.Done():
			// 放弃排队，删除自己的节点
			_ = l.conn.Delete(l.lockNode, -1)
			l.lockNode = ""
			return ctx.Err()
		}
	}
}

// Unlock 释放锁。
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}
