package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat_order/internal/logger"
	"chat_order/internal/metrics"
	"chat_order/internal/model"

	"github.com/segmentio/kafka-go"
)

// PaymentLedger 支付回调去重记录。
type PaymentLedger interface {
	Record(ctx context.Context, ev *model.PaymentEvent) (status model.PaymentEventStatus, duplicate bool, err error)
	SetStatus(ctx context.Context, providerRef string, status model.PaymentEventStatus, errMsg string) error
}

// OrderPayer 带前置条件的支付确认。
type OrderPayer interface {
	MarkPaid(ctx context.Context, orderNo, providerRef string, paidAt time.Time) (bool, error)
	FindByOrderNo(ctx context.Context, orderNo string) (*model.Order, error)
}

// EventSink 订单事件出口（outbox）。
type EventSink interface {
	PublishOrderEvent(ctx context.Context, ev OrderEvent) error
}

// PaymentConsumer 消费外部验签后的支付确认消息，把订单翻转为 paid。
// 客户自己说"已付款"从来不算数，只有这里会写 payment_status=paid。
type PaymentConsumer struct {
	r      *kafka.Reader
	ledger PaymentLedger
	orders OrderPayer
	events EventSink
	log    *logger.Logger
}

func NewPaymentConsumer(brokers []string, topic, groupID string, ledger PaymentLedger, orders OrderPayer, events EventSink, log *logger.Logger) *PaymentConsumer {
	if log == nil {
		log = logger.Nop()
	}
	return &PaymentConsumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		ledger: ledger,
		orders: orders,
		events: events,
		log:    log,
	}
}

func (c *PaymentConsumer) Close() error { return c.r.Close() }

func (c *PaymentConsumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}
		if err := c.Handle(ctx, m.Value); err != nil {
			c.log.Error("payment message failed", "offset", m.Offset, "error", err)
		}
	}
}

// Handle 处理一条消息。同一 provider_ref 重投时，只有上次停在 received 的才会重新应用；
// MarkPaid 自带状态前置条件，重复应用不会二次翻转。
func (c *PaymentConsumer) Handle(ctx context.Context, value []byte) error {
	var msg PaymentMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		metrics.PaymentEvents.WithLabelValues("malformed").Inc()
		return fmt.Errorf("unmarshal payment message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		metrics.PaymentEvents.WithLabelValues("malformed").Inc()
		return err
	}

	prev, dup, err := c.ledger.Record(ctx, &model.PaymentEvent{
		ProviderRef: msg.ProviderRef,
		OrderNo:     msg.OrderNo,
		RawStatus:   msg.Status,
		Status:      model.PaymentEventReceived,
	})
	if err != nil {
		return fmt.Errorf("record payment event: %w", err)
	}
	if dup {
		if prev != model.PaymentEventReceived {
			metrics.PaymentEvents.WithLabelValues("duplicate").Inc()
			c.log.Info("duplicate payment event ignored", "order_no", msg.OrderNo, "provider_ref", msg.ProviderRef)
			return nil
		}
		c.log.Info("retrying unfinished payment event", "order_no", msg.OrderNo, "provider_ref", msg.ProviderRef)
	}

	if !msg.IsPaid() {
		metrics.PaymentEvents.WithLabelValues("not_paid").Inc()
		return c.ledger.SetStatus(ctx, msg.ProviderRef, model.PaymentEventIgnored, "status "+msg.Status)
	}

	applied, err := c.orders.MarkPaid(ctx, msg.OrderNo, msg.ProviderRef, time.Now())
	if err != nil {
		_ = c.ledger.SetStatus(ctx, msg.ProviderRef, model.PaymentEventReceived, err.Error())
		return err
	}
	if !applied {
		metrics.PaymentEvents.WithLabelValues("precondition").Inc()
		c.log.Warn("payment not applied, order not awaiting payment", "order_no", msg.OrderNo)
		return c.ledger.SetStatus(ctx, msg.ProviderRef, model.PaymentEventIgnored, "precondition_failed")
	}

	metrics.PaymentEvents.WithLabelValues("applied").Inc()
	if err := c.ledger.SetStatus(ctx, msg.ProviderRef, model.PaymentEventApplied, ""); err != nil {
		c.log.Warn("payment event status update failed", "provider_ref", msg.ProviderRef, "error", err)
	}
	if c.events != nil {
		if o, err := c.orders.FindByOrderNo(ctx, msg.OrderNo); err == nil {
			ev := NewOrderEvent(OrderPaid, o.OrderNo, o.TenantID, o.CustomerID, o.Total, string(o.Status))
			if err := c.events.PublishOrderEvent(ctx, ev); err != nil {
				c.log.Warn("publish paid event failed", "order_no", o.OrderNo, "error", err)
			}
		}
	}
	c.log.Info("order paid", "order_no", msg.OrderNo, "provider_ref", msg.ProviderRef)
	return nil
}
