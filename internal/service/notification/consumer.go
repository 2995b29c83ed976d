// internal/service/notification/consumer.go
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"caremesh/internal/pkg/logger"
	"caremesh/internal/pkg/mq"
	coupondomain "caremesh/internal/service/coupon/domain"
)

// expiryNoticePush 是推给前端的消息格式。
type expiryNoticePush struct {
	Type        string   `json:"type"`
	CouponCodes []string `json:"couponCodes"`
	ExpiresAt   []string `json:"expiresAt"`
}

// NoticeConsumer 订阅券提醒主题，把过期预警推给在线用户。
// 消息是尽力而为的：用户不在线直接丢弃并提交 offset。
type NoticeConsumer struct {
	hub    *Hub
	reader *kafka.Reader
}

// NewNoticeConsumer 创建消费者。
func NewNoticeConsumer(brokers []string, groupID string, hub *Hub) *NoticeConsumer {
	return &NoticeConsumer{
		hub:    hub,
		reader: mq.NewKafkaReader(brokers, coupondomain.TopicCouponNotices, groupID),
	}
}

// Run 启动消费循环，签名满足 bootstrap.AppInfo.Workers。
func (c *NoticeConsumer) Run(ctx context.Context) error {
	logger.Logger.Info().Str("topic", coupondomain.TopicCouponNotices).Msg("✅ notice consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Logger.Error().Err(err).Msg("failed to fetch notice, retrying")
			time.Sleep(time.Second)
			continue
		}

		c.dispatch(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Logger.Error().Err(err).Msg("failed to commit notice offset")
		}
	}
}

// Close 关闭 reader。
func (c *NoticeConsumer) Close() error {
	return c.reader.Close()
}

func (c *NoticeConsumer) dispatch(parentCtx context.Context, msg kafka.Message) {
	carrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx := otel.GetTextMapPropagator().Extract(parentCtx, &carrier)

	var event coupondomain.ExpiryWarningEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("malformed expiry warning, skipping")
		return
	}

	push := expiryNoticePush{
		Type:        "COUPON_EXPIRY_WARNING",
		CouponCodes: event.CouponCodes,
	}
	for _, t := range event.ExpiresAt {
		push.ExpiresAt = append(push.ExpiresAt, t.UTC().Format(time.RFC3339))
	}
	payload, err := json.Marshal(push)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to marshal push payload")
		return
	}

	userKey := fmt.Sprintf("%s-%d", event.BeneficiaryKind, event.BeneficiaryID)
	delivered := c.hub.Push(userKey, payload)
	logger.Ctx(ctx).Info().Str("user", userKey).Int("connections", delivered).
		Int("coupons", len(event.CouponCodes)).Msg("expiry warning dispatched")
}
