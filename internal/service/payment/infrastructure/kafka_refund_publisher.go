// internal/service/payment/infrastructure/kafka_refund_publisher.go
package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"caremesh/internal/pkg/mq"
	"caremesh/internal/service/payment/domain/port"
)

// TopicRefundRequests 是补偿退款请求的主题，由计费方消费执行。
const TopicRefundRequests = "payment.refund.requests"

// refundRequestedEvent 是落到主题上的事件格式。
type refundRequestedEvent struct {
	EventID    string  `json:"eventId"`
	EventType  string  `json:"eventType"`
	CaseID     int64   `json:"caseId"`
	PaymentID  int64   `json:"paymentId"`
	PatientID  int64   `json:"patientId"`
	CouponCode string  `json:"couponCode"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	Reason     string  `json:"reason"`
	Timestamp  string  `json:"timestamp"`
}

// KafkaRefundPublisher 把退款请求发布到 Kafka。
// 与账本事件不同，退款请求发布失败必须向上传播：
// 没发出去等于用户的钱没退，调用方要把错误暴露出来人工介入。
type KafkaRefundPublisher struct {
	writer *kafka.Writer
}

// NewKafkaRefundPublisher 创建发布器。
func NewKafkaRefundPublisher(brokers []string) *KafkaRefundPublisher {
	return &KafkaRefundPublisher{
		writer: mq.NewKafkaWriter(brokers, TopicRefundRequests),
	}
}

// RequestRefund 发布一条退款请求。用 paymentId 作 key 保证
// 同一笔支付的消息落在同一分区，消费侧按序处理。
func (p *KafkaRefundPublisher) RequestRefund(ctx context.Context, req *port.RefundRequest) error {
	event := refundRequestedEvent{
		EventID:    uuid.New().String(),
		EventType:  "COUPON_REFUND_REQUESTED",
		CaseID:     req.CaseID,
		PaymentID:  req.PaymentID,
		PatientID:  req.PatientID,
		CouponCode: req.CouponCode,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Reason:     req.Reason,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal refund request: %w", err)
	}
	key := []byte(strconv.FormatInt(req.PaymentID, 10))
	if err := mq.ProduceMessage(ctx, p.writer, key, payload); err != nil {
		return fmt.Errorf("failed to publish refund request for payment %d: %w", req.PaymentID, err)
	}
	return nil
}

// Close 关闭底层 writer。
func (p *KafkaRefundPublisher) Close() error {
	return p.writer.Close()
}
