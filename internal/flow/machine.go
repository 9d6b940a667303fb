// Package flow 购物车/下单状态机：每个会话状态对应一个处理函数，
// 输入当前状态、消息与购物车，输出新状态、购物车变更与回复文本。
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chat_order/internal/catalog"
	"chat_order/internal/convo"
	"chat_order/internal/logger"
	"chat_order/internal/model"
	"chat_order/internal/payment"
	"chat_order/internal/queue"
	"chat_order/internal/quote"
	"chat_order/internal/session"
	"chat_order/internal/store"
)

// OrderStore 订单仓储的最小接口。
type OrderStore interface {
	CreateOrder(ctx context.Context, o *model.Order) error
	UpdateOrder(ctx context.Context, id uint, patch map[string]any) error
	FindLatestOpenOrder(ctx context.Context, tenantID, customerID string, statuses ...model.OrderStatus) (*model.Order, error)
	CancelOrder(ctx context.Context, id uint) (bool, error)
}

// Geocoder 地址转坐标，尽力而为。
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*quote.Coord, error)
}

// PaymentLinker 生成托管支付链接。
type PaymentLinker interface {
	CreatePaymentLink(ctx context.Context, tenantID, orderNo string, amount int64) (payment.Link, error)
}

// EventPublisher 订单事件出口。
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, ev queue.OrderEvent) error
}

// Deps 状态机依赖。Geocoder / Payments / Events 可以为 nil。
type Deps struct {
	Catalog  catalog.Loader
	Orders   OrderStore
	Counter  session.Counter
	Geocoder Geocoder
	Payments PaymentLinker
	Events   EventPublisher
	Log      *logger.Logger

	// MaxAttempts 连续无法识别的输入达到该次数后退出当前流程。
	MaxAttempts int
	// TooFarRetryLimit 超出配送范围后允许重新填写地址的次数，0 表示不限。
	TooFarRetryLimit int
}

// Input 一条消息的处理上下文。Tenant 每次请求解析一次后显式传入。
type Input struct {
	TenantID   string
	CustomerID string
	Tenant     *model.Tenant
	State      convo.State
	Raw        string
	Text       string // 已归一化
	Cart       convo.WorkingCart
	Location   *quote.Coord
}

// Kind 转移结果分类，供调用方记录与统计。
type Kind string

const (
	KindFlow      Kind = "flow"
	KindRetry     Kind = "retry"
	KindOrder     Kind = "order_created"
	KindConfirmed Kind = "order_confirmed"
	KindPayment   Kind = "payment"
	KindReset     Kind = "reset"
	KindAgent     Kind = "agent"
)

// Transition 状态机输出。
type Transition struct {
	State    convo.State
	Cart     convo.WorkingCart
	Reply    string
	ImageURL string
	OrderID  uint
	OrderNo  string
	Kind     Kind
}

type handler func(m *Machine, ctx context.Context, in Input) (Transition, error)

// Machine 状态分发表。自身无可变状态，可被并发调用。
type Machine struct {
	deps     Deps
	log      *logger.Logger
	handlers map[convo.State]handler
}

func New(deps Deps) *Machine {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 3
	}
	m := &Machine{deps: deps, log: deps.Log}
	m.handlers = map[convo.State]handler{
		convo.StateIdle:                  (*Machine).handleIdle,
		convo.StateOrderingItem:          (*Machine).handleOrderingItem,
		convo.StateOrderingVariant:       (*Machine).handleOrderingVariant,
		convo.StateOrderingQty:           (*Machine).handleOrderingQty,
		convo.StateOrderingUpsell:        (*Machine).handleOrderingUpsell,
		convo.StateConfirmingOrder:       (*Machine).handleConfirming,
		convo.StateCartEditMenu:          (*Machine).handleEditMenu,
		convo.StateCartEditItem:          (*Machine).handleEditItem,
		convo.StateCartEditQty:           (*Machine).handleEditQty,
		convo.StateCartRemoveItem:        (*Machine).handleRemoveItem,
		convo.StateAwaitingFulfillment:   (*Machine).handleFulfillment,
		convo.StateAwaitingAddress:       (*Machine).handleAddress,
		convo.StateAwaitingLocationPin:   (*Machine).handleLocationPin,
		convo.StateAwaitingPayment:       (*Machine).handlePayment,
		convo.StateAwaitingPaymentProof:  (*Machine).handlePaymentProof,
		convo.StateAwaitingPickupPayment: (*Machine).handlePickupPayment,
		convo.StateAgent:                 (*Machine).handleAgent,
	}
	return m
}

// Step 执行一次状态转移。只有基础设施故障才返回 error，输入问题都体现在回复里。
func (m *Machine) Step(ctx context.Context, in Input) (Transition, error) {
	in.Cart = in.Cart.Clone()
	in.Cart.Normalize()
	if in.Tenant == nil {
		in.Tenant = &model.Tenant{ID: in.TenantID}
	}
	h, ok := m.handlers[in.State]
	if !ok {
		h = (*Machine).handleIdle
		in.State = convo.StateIdle
	}
	t, err := h(m, ctx, in)
	if err != nil {
		return Transition{}, fmt.Errorf("flow %s: %w", in.State, err)
	}
	if t.Kind == "" {
		t.Kind = KindFlow
	}
	if t.Kind != KindRetry && t.Kind != KindAgent {
		m.resetAttempts(ctx, in)
	}
	return t, nil
}

// States 已注册处理函数的状态，测试用于确认分发表完整。
func (m *Machine) States() []convo.State {
	out := make([]convo.State, 0, len(m.handlers))
	for _, s := range convo.AllStates {
		if _, ok := m.handlers[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (m *Machine) items(ctx context.Context, tenantID string) ([]catalog.Item, error) {
	items, err := m.deps.Catalog.LoadActiveItems(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return items, nil
}

func (m *Machine) incAttempts(ctx context.Context, in Input) int {
	if m.deps.Counter == nil {
		return 1
	}
	n, err := m.deps.Counter.Inc(ctx, in.TenantID, in.CustomerID)
	if err != nil {
		m.log.Warn("attempt counter inc failed", "tenant_id", in.TenantID, "customer_id", in.CustomerID, "error", err)
		return 1
	}
	return n
}

func (m *Machine) resetAttempts(ctx context.Context, in Input) {
	if m.deps.Counter == nil {
		return
	}
	if err := m.deps.Counter.Reset(ctx, in.TenantID, in.CustomerID); err != nil {
		m.log.Warn("attempt counter reset failed", "tenant_id", in.TenantID, "customer_id", in.CustomerID, "error", err)
	}
}

// retry 无法识别的输入：计数并重新提示，达到上限时退出流程回到 idle。
func (m *Machine) retry(ctx context.Context, in Input, prompt string) Transition {
	n := m.incAttempts(ctx, in)
	if n >= m.deps.MaxAttempts {
		return m.abandon(ctx, in, n)
	}
	if n > 1 {
		prompt = "Sorry, I still didn't get that. " + prompt
	} else {
		prompt = "Sorry, I didn't get that. " + prompt
	}
	return Transition{State: in.State, Cart: in.Cart, Reply: prompt, Kind: KindRetry}
}

// abandon 连续无效输入达到上限，退出当前流程回到 idle。
func (m *Machine) abandon(ctx context.Context, in Input, n int) Transition {
	m.log.Info("flow abandoned after repeated invalid input",
		"tenant_id", in.TenantID, "customer_id", in.CustomerID, "state", in.State, "attempts", n)
	m.resetAttempts(ctx, in)
	return Transition{
		State: convo.StateIdle,
		Reply: "Let's start over. " + restartHint,
		Kind:  KindReset,
	}
}

// invalidChoice 越界的序号重新提示、保持状态；与其它无效输入共用计数上限。
func (m *Machine) invalidChoice(ctx context.Context, in Input, prompt string) Transition {
	n := m.incAttempts(ctx, in)
	if n >= m.deps.MaxAttempts {
		return m.abandon(ctx, in, n)
	}
	reply := "Invalid choice. " + prompt
	if n > 1 {
		reply = "Invalid choice again. Please pick a number from the list. " + prompt
	}
	return Transition{State: in.State, Cart: in.Cart, Reply: reply, Kind: KindRetry}
}

// lostContext 状态引用的商品/订单已不存在，按可恢复的重置处理。
func (m *Machine) lostContext(in Input, what string) Transition {
	m.log.Warn("flow context missing, resetting", "tenant_id", in.TenantID, "customer_id", in.CustomerID,
		"state", in.State, "missing", what)
	return Transition{
		State: convo.StateIdle,
		Reply: "Sorry, I lost track of your order. " + restartHint,
		Kind:  KindReset,
	}
}

// openOrder 当前会话对应的未完成订单。
func (m *Machine) openOrder(ctx context.Context, in Input, statuses ...model.OrderStatus) (*model.Order, error) {
	o, err := m.deps.Orders.FindLatestOpenOrder(ctx, in.TenantID, in.CustomerID, statuses...)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open order: %w", err)
	}
	return o, nil
}

func (m *Machine) updateOrder(ctx context.Context, o *model.Order, patch map[string]any) error {
	if err := m.deps.Orders.UpdateOrder(ctx, o.ID, patch); err != nil {
		return fmt.Errorf("update order %s: %w", o.OrderNo, err)
	}
	return nil
}

func (m *Machine) publish(ctx context.Context, typ queue.OrderEventType, o *model.Order, status model.OrderStatus) {
	if m.deps.Events == nil {
		return
	}
	ev := queue.NewOrderEvent(typ, o.OrderNo, o.TenantID, o.CustomerID, o.Total, string(status))
	if err := m.deps.Events.PublishOrderEvent(ctx, ev); err != nil {
		m.log.Warn("publish order event failed", "order_no", o.OrderNo, "type", typ, "error", err)
	}
}

// cancelOrder 取消尚未支付的订单，返回是否实际取消。
func (m *Machine) cancelOrder(ctx context.Context, o *model.Order) bool {
	ok, err := m.deps.Orders.CancelOrder(ctx, o.ID)
	if err != nil {
		m.log.Error("cancel order failed", "order_no", o.OrderNo, "error", err)
		return false
	}
	if ok {
		m.publish(ctx, queue.OrderCancelled, o, model.OrderCancelled)
		m.log.Info("order cancelled", "order_no", o.OrderNo, "tenant_id", o.TenantID)
	}
	return ok
}

// CancelOpenOrder 逃生通道使用：取消最近一笔可取消的订单。
func (m *Machine) CancelOpenOrder(ctx context.Context, tenantID, customerID string) (bool, error) {
	o, err := m.openOrder(ctx, Input{TenantID: tenantID, CustomerID: customerID})
	if err != nil || o == nil {
		return false, err
	}
	return m.cancelOrder(ctx, o), nil
}

func joinReply(parts ...string) string {
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
