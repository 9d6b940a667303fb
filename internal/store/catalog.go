package store

import (
	"context"
	"fmt"

	"chat_order/internal/catalog"
	"chat_order/internal/model"

	"gorm.io/gorm"
)

// Catalog 实现 catalog.Loader，只读。
type Catalog struct {
	db *gorm.DB
}

func NewCatalog(db *gorm.DB) *Catalog { return &Catalog{db: db} }

func (s *Catalog) LoadActiveItems(ctx context.Context, tenantID string) ([]catalog.Item, error) {
	var rows []model.CatalogItem
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Order("sort_order ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	items := make([]catalog.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.ToItem())
	}
	return items, nil
}

// Tenants 商户配置读取。
type Tenants struct {
	db *gorm.DB
}

func NewTenants(db *gorm.DB) *Tenants { return &Tenants{db: db} }

func (s *Tenants) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	var t model.Tenant
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}
