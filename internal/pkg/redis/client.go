// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client 封装了 go-redis 客户端，并管理预加载的 Lua 脚本。
type Client struct {
	client  *goredis.Client
	scripts map[string]*goredis.Script
	lock    sync.RWMutex
}

// NewClient 创建一个新的 Redis 客户端封装。
func NewClient(addr string) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &Client{
		client:  rdb,
		scripts: make(map[string]*goredis.Script),
	}, nil
}

// GetClient 返回底层的 go-redis 客户端，供需要 pipeline 等高级操作的调用方使用。
func (c *Client) GetClient() *goredis.Client {
	return c.client
}

// LoadScriptFromContent 注册一段 Lua 脚本，之后可以通过名字执行。
func (c *Client) LoadScriptFromContent(name, content string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.scripts[name]; ok {
		return fmt.Errorf("script %q already registered", name)
	}
	c.scripts[name] = goredis.NewScript(content)
	return nil
}

// RunScript 执行一段已注册的 Lua 脚本。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.lock.RLock()
	script, ok := c.scripts[name]
	c.lock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %q is not registered", name)
	}
	return script.Run(ctx, c.client, keys, args...).Result()
}

// SetNX 是 SET key value NX EX 的便捷封装，用于消费端的幂等去重。
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

// Set 是 SET key value EX 的便捷封装。
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Exists 判断 key 是否存在。
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	return n > 0, err
}

// Close 关闭底层连接。
func (c *Client) Close() error {
	return c.client.Close()
}
