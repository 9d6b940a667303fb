package store

import (
	"context"
	"fmt"

	"chat_order/internal/model"

	"gorm.io/gorm"
)

// Rules 覆盖规则仓储。
type Rules struct {
	db *gorm.DB
}

func NewRules(db *gorm.DB) *Rules { return &Rules{db: db} }

// ActiveRules 按创建顺序返回，先建的规则优先。
func (s *Rules) ActiveRules(ctx context.Context, tenantID string) ([]model.IntentOverrideRule, error) {
	var rules []model.IntentOverrideRule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Order("id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("load override rules: %w", err)
	}
	return rules, nil
}

func (s *Rules) ListRules(ctx context.Context, tenantID string) ([]model.IntentOverrideRule, error) {
	var rules []model.IntentOverrideRule
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("id ASC").Find(&rules).Error
	return rules, err
}

func (s *Rules) HasRule(ctx context.Context, tenantID, pattern, lane string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.IntentOverrideRule{}).
		Where("tenant_id = ? AND pattern = ? AND lane = ?", tenantID, pattern, lane).
		Count(&n).Error
	return n > 0, err
}

func (s *Rules) CreateRule(ctx context.Context, rule *model.IntentOverrideRule) error {
	return s.db.WithContext(ctx).Create(rule).Error
}

// Events 意图决策日志，只追加。
type Events struct {
	db *gorm.DB
}

func NewEvents(db *gorm.DB) *Events { return &Events{db: db} }

func (s *Events) Append(ctx context.Context, ev *model.IntentEvent) error {
	return s.db.WithContext(ctx).Create(ev).Error
}

func (s *Events) Recent(ctx context.Context, tenantID, customerID string, limit int) ([]model.IntentEvent, error) {
	var out []model.IntentEvent
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
