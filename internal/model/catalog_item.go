package model

import (
	"time"

	"chat_order/internal/catalog"

	"gorm.io/gorm"
)

// CatalogItem 商户上架商品，一行对应一个规格。目录由外部后台维护，这里只读。
type CatalogItem struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	TenantID     string `gorm:"size:64;not null;index:idx_catalog_tenant_active,priority:1" json:"tenant_id"`
	Canonical    string `gorm:"size:128;not null" json:"canonical"`
	DisplayName  string `gorm:"size:128" json:"display_name"`
	Brand        string `gorm:"size:64" json:"brand"`
	Variant      string `gorm:"size:64" json:"variant"`
	Category     string `gorm:"size:64" json:"category"`
	UnitPrice    int64  `gorm:"not null" json:"unit_price"` // 单位：分
	UpsellItemID *uint  `json:"upsell_item_id"`
	Active       bool   `gorm:"not null;default:true;index:idx_catalog_tenant_active,priority:2" json:"active"`
	SortOrder    int    `gorm:"not null;default:0" json:"sort_order"`
}

func (CatalogItem) TableName() string { return "catalog_items" }

// ToItem 转为检索用的只读结构。
func (c CatalogItem) ToItem() catalog.Item {
	it := catalog.Item{
		ID:          c.ID,
		Canonical:   c.Canonical,
		DisplayName: c.DisplayName,
		Brand:       c.Brand,
		Variant:     c.Variant,
		Category:    c.Category,
		UnitPrice:   c.UnitPrice,
	}
	if c.UpsellItemID != nil {
		it.UpsellItemID = *c.UpsellItemID
	}
	return it
}
