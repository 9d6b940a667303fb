package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrderEventType 订单事件类型。
type OrderEventType string

const (
	OrderCreated   OrderEventType = "created"
	OrderConfirmed OrderEventType = "confirmed"
	OrderCancelled OrderEventType = "cancelled"
	OrderPaid      OrderEventType = "paid"
)

// OrderEvent 是写入 outbox、再由 Relay 转发到 Kafka 的订单事件。
type OrderEvent struct {
	EventID    string         `json:"event_id"`
	Type       OrderEventType `json:"type"`
	OrderNo    string         `json:"order_no"`
	TenantID   string         `json:"tenant_id"`
	CustomerID string         `json:"customer_id"`
	Total      int64          `json:"total"` // 分
	Status     string         `json:"status"`
	OccurredAt int64          `json:"occurred_at"` // unix 毫秒
}

// NewOrderEvent 填充 event_id 与时间。
func NewOrderEvent(typ OrderEventType, orderNo, tenantID, customerID string, total int64, status string) OrderEvent {
	return OrderEvent{
		EventID:    uuid.NewString(),
		Type:       typ,
		OrderNo:    orderNo,
		TenantID:   tenantID,
		CustomerID: customerID,
		Total:      total,
		Status:     status,
		OccurredAt: time.Now().UnixMilli(),
	}
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (e OrderEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	switch e.Type {
	case OrderCreated, OrderConfirmed, OrderCancelled, OrderPaid:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.OrderNo == "" {
		return fmt.Errorf("order_no is required")
	}
	if e.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if e.Total < 0 {
		return fmt.Errorf("total must be >= 0")
	}
	return nil
}

// streamValues Redis Stream 字段，全部按字符串写入。
func (e OrderEvent) streamValues() map[string]any {
	return map[string]any{
		"event_id":    e.EventID,
		"type":        string(e.Type),
		"order_no":    e.OrderNo,
		"tenant_id":   e.TenantID,
		"customer_id": e.CustomerID,
		"total":       e.Total,
		"status":      e.Status,
		"occurred_at": e.OccurredAt,
	}
}

// PaymentMessage 是支付确认 Topic 的消息体（由外部验签服务写入）。
type PaymentMessage struct {
	OrderNo     string `json:"order_no"`
	Status      string `json:"status"` // paid / captured / failed ...
	ProviderRef string `json:"provider_ref"`
	Amount      int64  `json:"amount"`
}

func (m PaymentMessage) Validate() error {
	if m.OrderNo == "" {
		return fmt.Errorf("order_no is required")
	}
	if m.ProviderRef == "" {
		return fmt.Errorf("provider_ref is required")
	}
	return nil
}

// IsPaid 只有成功类状态才会翻转订单。
func (m PaymentMessage) IsPaid() bool {
	switch m.Status {
	case "paid", "captured", "success":
		return true
	}
	return false
}
