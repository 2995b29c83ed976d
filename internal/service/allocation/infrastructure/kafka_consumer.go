// internal/service/allocation/infrastructure/kafka_consumer.go
package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"caremesh/internal/pkg/logger"
	"caremesh/internal/pkg/mq"
	"caremesh/internal/service/allocation/application"
	coupondomain "caremesh/internal/service/coupon/domain"
)

var eventsMalformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "coupon_replica_events_malformed_total",
	Help: "Events with undecodable payloads, skipped and committed.",
}, []string{"topic"})

// ReplicationConsumer 订阅账本的四个状态迁移主题并驱动副本服务。
// 每个主题一个 goroutine；offset 在处理成功（或确定跳过）后才提交，
// 处理失败不提交，等待重新投递。
type ReplicationConsumer struct {
	svc     *application.ReplicaService
	readers map[string]*kafka.Reader
}

// NewReplicationConsumer 创建消费者。groupID 区分监护人/患者两套副本，
// 两个服务各自消费全量事件流、各自过滤。
func NewReplicationConsumer(brokers []string, groupID string, svc *application.ReplicaService) *ReplicationConsumer {
	topics := []string{
		coupondomain.TopicCouponDistributed,
		coupondomain.TopicCouponUsed,
		coupondomain.TopicCouponCancelled,
		coupondomain.TopicCouponExpired,
	}
	readers := make(map[string]*kafka.Reader, len(topics))
	for _, topic := range topics {
		readers[topic] = mq.NewKafkaReader(brokers, topic, groupID)
	}
	return &ReplicationConsumer{svc: svc, readers: readers}
}

// Run 启动全部消费循环，签名满足 bootstrap.AppInfo.Workers。
// 任意一个循环出错即整体退出，交给上层重启。
func (c *ReplicationConsumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for topic, reader := range c.readers {
		topic, reader := topic, reader
		g.Go(func() error {
			return c.consumeLoop(ctx, topic, reader)
		})
	}
	return g.Wait()
}

// Close 关闭全部 reader。
func (c *ReplicationConsumer) Close() error {
	var lastErr error
	for _, reader := range c.readers {
		if err := reader.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *ReplicationConsumer) consumeLoop(ctx context.Context, topic string, reader *kafka.Reader) error {
	logger.Logger.Info().Str("topic", topic).Msg("✅ replication consumer started")
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Logger.Info().Str("topic", topic).Msg("replication consumer shutting down")
				return ctx.Err()
			}
			logger.Logger.Error().Err(err).Str("topic", topic).Msg("failed to fetch message, retrying")
			time.Sleep(time.Second) // 避免快速失败循环
			continue
		}

		if err := c.processMessage(ctx, topic, msg); err != nil {
			// 不提交 offset，等待重新投递；幂等应用保证重放安全
			logger.Ctx(ctx).Error().Err(err).Str("topic", topic).Msg("failed to apply event, will retry")
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Logger.Error().Err(err).Str("topic", topic).Msg("failed to commit offset")
		}
	}
}

// processMessage 反序列化并分发到对应的副本操作。
// 坏消息（无法解码）记数后按成功处理，避免卡死整个分区。
func (c *ReplicationConsumer) processMessage(parentCtx context.Context, topic string, msg kafka.Message) error {
	carrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx := otel.GetTextMapPropagator().Extract(parentCtx, &carrier)

	decode := func(v interface{}) bool {
		if err := json.Unmarshal(msg.Value, v); err != nil {
			eventsMalformedTotal.WithLabelValues(topic).Inc()
			logger.Ctx(ctx).Error().Err(err).Str("topic", topic).
				Str("key", string(msg.Key)).Msg("malformed event payload, skipping")
			return false
		}
		return true
	}

	switch topic {
	case coupondomain.TopicCouponDistributed:
		var event coupondomain.CouponDistributedEvent
		if !decode(&event) {
			return nil
		}
		return c.svc.HandleDistributed(ctx, &event)
	case coupondomain.TopicCouponUsed:
		var event coupondomain.CouponUsedEvent
		if !decode(&event) {
			return nil
		}
		return c.svc.HandleUsed(ctx, &event)
	case coupondomain.TopicCouponCancelled:
		var event coupondomain.CouponCancelledEvent
		if !decode(&event) {
			return nil
		}
		return c.svc.HandleCancelled(ctx, &event)
	case coupondomain.TopicCouponExpired:
		var event coupondomain.CouponsExpiredEvent
		if !decode(&event) {
			return nil
		}
		return c.svc.HandleExpired(ctx, &event)
	default:
		return errors.New("unexpected topic: " + topic)
	}
}
