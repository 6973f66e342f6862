package event

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"seckill/internal/model"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// Producer 把订单事件写入 Kafka。
type Producer struct {
	w *kafka.Writer
}

// NewProducer 可靠性参数：
// - Hash + 用户ID 作为 key：同一用户的事件落在同一分区，保持先后顺序
// - RequireAll：等待 ISR 全部确认
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// PublishOrderCreated 同步写入一条订单创建事件。
func (p *Producer) PublishOrderCreated(ctx context.Context, order model.VoucherOrder) error {
	msg, err := newOrderCreatedMessage(order)
	if err != nil {
		return err
	}
	return errors.Wrapf(p.w.WriteMessages(ctx, msg), "publish order %d", order.ID)
}

func newOrderCreatedMessage(order model.VoucherOrder) (kafka.Message, error) {
	evt := OrderCreated{
		OrderID:   order.ID,
		UserID:    order.UserID,
		VoucherID: order.VoucherID,
		CreatedAt: order.CreatedAt,
	}
	if err := evt.Validate(); err != nil {
		return kafka.Message{}, errors.Wrap(err, "invalid order created event")
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "marshal order created event")
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(order.UserID, 10)),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte("voucher_order.created")},
		},
	}, nil
}
