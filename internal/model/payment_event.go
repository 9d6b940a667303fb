package model

import (
	"time"

	"gorm.io/gorm"
)

// PaymentEventStatus 支付回调处理状态。
type PaymentEventStatus int

const (
	PaymentEventReceived PaymentEventStatus = iota // 已落库、待应用
	PaymentEventApplied                            // 订单已标记 paid
	PaymentEventIgnored                            // 前置条件不满足（已处理 / 已取消 / 非 paid 事件）
)

// PaymentEvent 记录每条支付确认消息，ProviderRef 唯一，用于回调重试去重与排查。
type PaymentEvent struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ProviderRef string `gorm:"size:64;uniqueIndex;not null" json:"provider_ref"`
	OrderNo     string `gorm:"size:64;not null;index" json:"order_no"`
	RawStatus   string `gorm:"size:32" json:"raw_status"`
	// Status + ErrorMsg 支撑排查。
	Status   PaymentEventStatus `gorm:"not null;default:0;index" json:"status"`
	ErrorMsg string             `gorm:"size:255" json:"error_msg"`
}

func (PaymentEvent) TableName() string { return "payment_events" }
