package store

import (
	"context"
	"fmt"

	"chat_order/internal/model"

	"gorm.io/gorm"
)

// PaymentEvents 支付回调落库。
type PaymentEvents struct {
	db *gorm.DB
}

func NewPaymentEvents(db *gorm.DB) *PaymentEvents { return &PaymentEvents{db: db} }

// Record 以 provider_ref 去重；duplicate=true 表示同一回调已经收到过，status 为已有记录的处理状态。
// 已有记录仍是 received 说明上次没处理完，调用方应当重新应用。
func (s *PaymentEvents) Record(ctx context.Context, ev *model.PaymentEvent) (status model.PaymentEventStatus, duplicate bool, err error) {
	err = s.db.WithContext(ctx).Create(ev).Error
	if err == nil {
		return ev.Status, false, nil
	}
	if !errorsLikeUnique(err) {
		return 0, false, err
	}
	var existing model.PaymentEvent
	if err := s.db.WithContext(ctx).Select("status").Where("provider_ref = ?", ev.ProviderRef).First(&existing).Error; err != nil {
		return 0, true, fmt.Errorf("load payment event %s: %w", ev.ProviderRef, err)
	}
	return existing.Status, true, nil
}

func (s *PaymentEvents) SetStatus(ctx context.Context, providerRef string, status model.PaymentEventStatus, errMsg string) error {
	return s.db.WithContext(ctx).Model(&model.PaymentEvent{}).
		Where("provider_ref = ?", providerRef).
		Updates(map[string]any{"status": status, "error_msg": errMsg}).Error
}
