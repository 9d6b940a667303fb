package model

import (
	"strings"
	"time"

	"chat_order/internal/quote"
)

// Vertical 商户业态。
const (
	VerticalRestaurant = "restaurant"
	VerticalGrocery    = "grocery"
	VerticalPharmacy   = "pharmacy"
	VerticalSalon      = "salon"
)

// Tenant 商户配置：业态、门店坐标、配送计费与咨询类回复所需的资料。
// 每条消息处理前解析一次，显式传入各处理函数。
type Tenant struct {
	ID        string    `gorm:"size:64;primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name              string `gorm:"size:128;not null" json:"name"`
	Vertical          string `gorm:"size:32;not null;default:restaurant" json:"vertical"`
	FulfillmentChoice bool   `gorm:"not null;default:false" json:"fulfillment_choice"`

	StoreLat *float64 `json:"store_lat"`
	StoreLng *float64 `json:"store_lng"`

	// 配送计费，金额单位：分
	FreeKm   float64 `gorm:"not null;default:0" json:"free_km"`
	MaxKm    float64 `gorm:"not null;default:0" json:"max_km"`
	FeeType  string  `gorm:"size:16" json:"fee_type"`
	FlatFee  int64   `gorm:"not null;default:0" json:"flat_fee"`
	PerKmFee int64   `gorm:"not null;default:0" json:"per_km_fee"`

	OpeningHours string `gorm:"size:255" json:"opening_hours"`
	StoreAddress string `gorm:"size:255" json:"store_address"`
	MapsURL      string `gorm:"size:255" json:"maps_url"`
	ContactPhone string `gorm:"size:32" json:"contact_phone"`
	DeliveryArea string `gorm:"size:255" json:"delivery_area"`
	DeliveryETA  string `gorm:"size:128" json:"delivery_eta"`
	PaymentQRURL string `gorm:"size:255" json:"payment_qr_url"`
	UPIID        string `gorm:"size:64" json:"upi_id"`
}

func (Tenant) TableName() string { return "tenants" }

// RequiresFulfillmentChoice 餐饮默认需要询问自提/外送，其它业态按开关。
func (t *Tenant) RequiresFulfillmentChoice() bool {
	return strings.EqualFold(t.Vertical, VerticalRestaurant) || t.FulfillmentChoice
}

// StoreCoord 门店坐标，未配置时返回 nil。
func (t *Tenant) StoreCoord() *quote.Coord {
	if t.StoreLat == nil || t.StoreLng == nil {
		return nil
	}
	return &quote.Coord{Lat: *t.StoreLat, Lng: *t.StoreLng}
}

// Pricing 转为报价引擎的计费配置；没有任何计费信息时返回 nil（no_config）。
func (t *Tenant) Pricing() *quote.Pricing {
	if t.FeeType == "" && t.FreeKm == 0 && t.MaxKm == 0 && t.FlatFee == 0 && t.PerKmFee == 0 {
		return nil
	}
	return &quote.Pricing{
		FreeKm:   t.FreeKm,
		MaxKm:    t.MaxKm,
		FeeType:  quote.FeeType(strings.ToLower(t.FeeType)),
		FlatFee:  t.FlatFee,
		PerKmFee: t.PerKmFee,
	}
}
