package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OrderStatus 订单主状态。
type OrderStatus string

const (
	OrderAwaitingCustomerAction OrderStatus = "awaiting_customer_action" // 已下单，等待客户选择配送/支付
	OrderConfirmed              OrderStatus = "confirmed"                // 可交给商户处理
	OrderCancelled              OrderStatus = "cancelled"
)

// PaymentStatus 支付状态，paid 只能由支付回调写入。
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// DeliveryStatus 配送信息采集进度。
type DeliveryStatus string

const (
	DeliveryPendingAddress DeliveryStatus = "pending_address" // 地址或运费待商户确认
	DeliveryQuoted         DeliveryStatus = "quoted"
	DeliveryPickup         DeliveryStatus = "pickup"
)

const (
	FulfillmentPickup   = "pickup"
	FulfillmentDelivery = "delivery"
)

const (
	PaymentModeCash   = "cash"
	PaymentModeCard   = "card"
	PaymentModeUPI    = "upi"
	PaymentModeOnline = "online"
)

// Order 会话下单。Lines 是下单时购物车的快照，创建后不再修改；
// 之后只允许状态机更新地址、坐标、运费以及配送/支付字段。
type Order struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OrderNo    string         `gorm:"size:64;uniqueIndex;not null" json:"order_no"`
	TenantID   string         `gorm:"size:64;not null;index:idx_order_customer,priority:1" json:"tenant_id"`
	CustomerID string         `gorm:"size:64;not null;index:idx_order_customer,priority:2" json:"customer_id"`
	Lines      datatypes.JSON `json:"lines"`

	Subtotal    int64 `gorm:"not null" json:"subtotal"` // 单位：分
	DeliveryFee int64 `gorm:"not null;default:0" json:"delivery_fee"`
	Total       int64 `gorm:"not null" json:"total"`

	Status          OrderStatus    `gorm:"size:32;not null;index" json:"status"`
	FulfillmentType string         `gorm:"size:16" json:"fulfillment_type"`
	PaymentMode     string         `gorm:"size:16" json:"payment_mode"`
	PaymentStatus   PaymentStatus  `gorm:"size:16;not null;default:unpaid" json:"payment_status"`
	DeliveryStatus  DeliveryStatus `gorm:"size:32" json:"delivery_status"`

	Address    string   `gorm:"size:512" json:"address"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	DistanceKm *float64 `json:"distance_km"`

	PaymentLinkID  string     `gorm:"size:64" json:"payment_link_id"`
	PaymentLinkURL string     `gorm:"size:255" json:"payment_link_url"`
	ProviderRef    string     `gorm:"size:64" json:"provider_ref"`
	PaidAt         *time.Time `json:"paid_at"`
}

// 显式实现结构，确定表名
func (Order) TableName() string { return "orders" }
