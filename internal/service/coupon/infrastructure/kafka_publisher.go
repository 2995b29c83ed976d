// internal/service/coupon/infrastructure/kafka_publisher.go
package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"caremesh/internal/pkg/mq"
	"caremesh/internal/service/coupon/domain"
)

// KafkaEventPublisher 是 port.EventPublisher 的 Kafka 实现。
// 每种迁移一个主题，消息 Key 用券码，保证同一张券的事件落在同一分区。
type KafkaEventPublisher struct {
	distributed *kafka.Writer
	used        *kafka.Writer
	cancelled   *kafka.Writer
	expired     *kafka.Writer
	notices     *kafka.Writer
}

// NewKafkaEventPublisher 为每个主题创建独立的 writer。
func NewKafkaEventPublisher(brokers []string) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		distributed: mq.NewKafkaWriter(brokers, domain.TopicCouponDistributed),
		used:        mq.NewKafkaWriter(brokers, domain.TopicCouponUsed),
		cancelled:   mq.NewKafkaWriter(brokers, domain.TopicCouponCancelled),
		expired:     mq.NewKafkaWriter(brokers, domain.TopicCouponExpired),
		notices:     mq.NewKafkaWriter(brokers, domain.TopicCouponNotices),
	}
}

func (p *KafkaEventPublisher) PublishDistributed(ctx context.Context, event *domain.CouponDistributedEvent) error {
	return p.publish(ctx, p.distributed, event.CouponCode, event)
}

func (p *KafkaEventPublisher) PublishUsed(ctx context.Context, event *domain.CouponUsedEvent) error {
	return p.publish(ctx, p.used, event.CouponCode, event)
}

func (p *KafkaEventPublisher) PublishCancelled(ctx context.Context, event *domain.CouponCancelledEvent) error {
	return p.publish(ctx, p.cancelled, event.CouponCode, event)
}

func (p *KafkaEventPublisher) PublishExpired(ctx context.Context, event *domain.CouponsExpiredEvent) error {
	// 分组事件用受益人作 Key
	key := fmt.Sprintf("%s-%d", event.BeneficiaryKind, event.BeneficiaryID)
	return p.publish(ctx, p.expired, key, event)
}

func (p *KafkaEventPublisher) PublishExpiryWarning(ctx context.Context, event *domain.ExpiryWarningEvent) error {
	key := fmt.Sprintf("%s-%d", event.BeneficiaryKind, event.BeneficiaryID)
	return p.publish(ctx, p.notices, key, event)
}

func (p *KafkaEventPublisher) publish(ctx context.Context, writer *kafka.Writer, key string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return mq.ProduceMessage(ctx, writer, []byte(key), payload)
}

// Close 关闭所有 writer。
func (p *KafkaEventPublisher) Close() error {
	for _, w := range []*kafka.Writer{p.distributed, p.used, p.cancelled, p.expired, p.notices} {
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}
