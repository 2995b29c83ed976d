// internal/service/allocation/domain/port/dedup.go
package port

import "context"

// EventDeduper 记录已经成功应用过的事件。
// 标记必须发生在应用成功之后：应用失败的事件不能留下标记，
// 否则重投递会被去重层吞掉，事件永久丢失。
// 生产实现基于 Redis + TTL；实体上的 LastEventID 与优先级规则是第二道防线，
// 去重窗口过期后重放的事件仍然会被正确收敛。
type EventDeduper interface {
	// Seen 只读查询事件是否已成功应用过。
	Seen(ctx context.Context, eventID string) (bool, error)
	// MarkApplied 在事件成功应用后写入标记。
	MarkApplied(ctx context.Context, eventID string) error
}
