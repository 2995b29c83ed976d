// internal/service/allocation/infrastructure/redis_dedup.go
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"caremesh/internal/pkg/redis"
)

const dedupTTL = 72 * time.Hour

// RedisEventDeduper 用 Redis 记录已应用的事件。
// key 携带消费组名：监护人副本和患者副本各自独立去重。
type RedisEventDeduper struct {
	client *redis.Client
	group  string
}

// NewRedisEventDeduper 创建去重器。
func NewRedisEventDeduper(client *redis.Client, group string) *RedisEventDeduper {
	return &RedisEventDeduper{client: client, group: group}
}

// Seen 查询事件是否已成功应用过。
func (d *RedisEventDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	return d.client.Exists(ctx, d.key(eventID))
}

// MarkApplied 在事件应用成功后写入标记。TTL 到期后重放的事件会被放行，
// 由实体上的优先级规则兜底。
func (d *RedisEventDeduper) MarkApplied(ctx context.Context, eventID string) error {
	return d.client.Set(ctx, d.key(eventID), 1, dedupTTL)
}

func (d *RedisEventDeduper) key(eventID string) string {
	return fmt.Sprintf("coupon:dedup:%s:%s", d.group, eventID)
}
