// internal/pkg/zookeeper/conn.go
package zookeeper

import (
	"time"

	"github.com/go-zookeeper/zk"

	"caremesh/internal/pkg/logger"
)

// Conn 封装了 ZooKeeper 连接。
type Conn struct {
	*zk.Conn
}

// Connect 建立到 ZooKeeper 集群的连接。
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, err
	}
	logger.Logger.Info().Strs("servers", servers).Msg("connected to zookeeper")
	return &Conn{Conn: conn}, nil
}

// EnsurePath 递归确保一个持久节点路径存在。
func (c *Conn) EnsurePath(path string) error {
	exists, _, err := c.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = c.Create(path, []byte{}, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return err
	}
	return nil
}
