package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat_order/internal/convo"
	"chat_order/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Orders 订单仓储。
type Orders struct {
	db *gorm.DB
}

func NewOrders(db *gorm.DB) *Orders { return &Orders{db: db} }

// LinesJSON 购物车行快照序列化。
func LinesJSON(lines []convo.LineItem) (datatypes.JSON, error) {
	b, err := json.Marshal(lines)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// DecodeLines 反序列化订单行快照。
func DecodeLines(o *model.Order) ([]convo.LineItem, error) {
	var lines []convo.LineItem
	if len(o.Lines) == 0 {
		return lines, nil
	}
	err := json.Unmarshal(o.Lines, &lines)
	return lines, err
}

func (s *Orders) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// UpdateOrder 局部更新；快照字段（lines / subtotal）不允许通过这里修改。
func (s *Orders) UpdateOrder(ctx context.Context, id uint, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	for _, frozen := range []string{"lines", "subtotal", "order_no", "tenant_id", "customer_id"} {
		if _, ok := patch[frozen]; ok {
			return fmt.Errorf("update order: field %s is immutable", frozen)
		}
	}
	res := s.db.WithContext(ctx).Model(&model.Order{}).Where("id = ?", id).Updates(patch)
	if res.Error != nil {
		return fmt.Errorf("update order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindLatestOpenOrder 最近一笔处于给定状态的订单。
func (s *Orders) FindLatestOpenOrder(ctx context.Context, tenantID, customerID string, statuses ...model.OrderStatus) (*model.Order, error) {
	if len(statuses) == 0 {
		statuses = []model.OrderStatus{model.OrderAwaitingCustomerAction}
	}
	var o model.Order
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND customer_id = ? AND status IN ?", tenantID, customerID, statuses).
		Order("created_at DESC, id DESC").
		First(&o).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (s *Orders) FindByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	var o model.Order
	if err := s.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&o).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// MarkPaid 支付确认：带状态前置条件，重试的回调不会重复流转。
// 返回 applied=false 表示订单已处理过或不在可支付状态。
func (s *Orders) MarkPaid(ctx context.Context, orderNo, providerRef string, paidAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("order_no = ? AND status = ?", orderNo, model.OrderAwaitingCustomerAction).
		Where("payment_status <> ?", model.PaymentPaid).
		Updates(map[string]any{
			"payment_status": model.PaymentPaid,
			"status":         model.OrderConfirmed,
			"provider_ref":   providerRef,
			"paid_at":        paidAt,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark paid: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CancelOrder 只取消尚未支付、仍在等待客户操作的订单。
func (s *Orders) CancelOrder(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ? AND payment_status <> ?", id, model.OrderAwaitingCustomerAction, model.PaymentPaid).
		Update("status", model.OrderCancelled)
	if res.Error != nil {
		return false, fmt.Errorf("cancel order: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
