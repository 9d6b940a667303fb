package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chat_order/internal/convo"
	"chat_order/internal/model"
	"chat_order/internal/queue"
	"chat_order/internal/store"

	"github.com/google/uuid"
)

func (m *Machine) handleConfirming(ctx context.Context, in Input) (Transition, error) {
	cart := in.Cart
	if len(cart.Cart) == 0 {
		return m.lostContext(in, "cart"), nil
	}
	t := strings.TrimSpace(in.Text)
	switch {
	case t == "1" || t == "confirm" || t == "place order" || (isYes(t) && !strings.HasPrefix(t, "add")):
		return m.placeOrder(ctx, in)
	case t == "2" || t == "edit" || t == "change" || t == "modify":
		return Transition{State: convo.StateCartEditMenu, Cart: cart, Reply: editMenu}, nil
	}
	return m.retry(ctx, in, joinReply(CartSummary(cart), confirmMenu)), nil
}

// placeOrder 只能由确认菜单的"确认"触发，写入订单快照后清空购物车。
func (m *Machine) placeOrder(ctx context.Context, in Input) (Transition, error) {
	lines, err := store.LinesJSON(in.Cart.Cart)
	if err != nil {
		return Transition{}, fmt.Errorf("encode lines: %w", err)
	}
	subtotal := in.Cart.Subtotal()
	o := &model.Order{
		OrderNo:       newOrderNo(),
		TenantID:      in.TenantID,
		CustomerID:    in.CustomerID,
		Lines:         lines,
		Subtotal:      subtotal,
		Total:         subtotal,
		Status:        model.OrderAwaitingCustomerAction,
		PaymentStatus: model.PaymentUnpaid,
	}
	next := convo.StateAwaitingFulfillment
	if !in.Tenant.RequiresFulfillmentChoice() {
		next = convo.StateAwaitingAddress
		o.FulfillmentType = model.FulfillmentDelivery
		o.DeliveryStatus = model.DeliveryPendingAddress
	}
	if err := m.deps.Orders.CreateOrder(ctx, o); err != nil {
		return Transition{}, err
	}
	m.publish(ctx, queue.OrderCreated, o, o.Status)
	m.log.Info("order created", "order_no", o.OrderNo, "tenant_id", o.TenantID, "customer_id", o.CustomerID,
		"total", o.Total, "lines", len(in.Cart.Cart))

	head := fmt.Sprintf("Order %s placed. Total so far: %s.", o.OrderNo, Money(o.Total))
	reply := joinReply(head, fulfillmentPrompt)
	if next == convo.StateAwaitingAddress {
		reply = joinReply(head, addressPrompt)
	}
	return Transition{
		State:   next,
		Cart:    convo.WorkingCart{},
		Reply:   reply,
		OrderID: o.ID,
		OrderNo: o.OrderNo,
		Kind:    KindOrder,
	}, nil
}

func newOrderNo() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("CO%s%s", time.Now().Format("060102"), id[:8])
}

func (m *Machine) handleEditMenu(ctx context.Context, in Input) (Transition, error) {
	cart := in.Cart
	if len(cart.Cart) == 0 {
		return m.lostContext(in, "cart"), nil
	}
	t := strings.TrimSpace(in.Text)
	switch {
	case t == "1" || strings.HasPrefix(t, "add"):
		cart.ResetSelection()
		return Transition{State: convo.StateIdle, Cart: cart, Reply: "Sure. Send the name of the item you'd like to add."}, nil
	case t == "2" || strings.Contains(t, "quantity") || strings.Contains(t, "qty"):
		return Transition{State: convo.StateCartEditItem, Cart: cart,
			Reply: "Which item's quantity should I change?\n" + cartLines(cart)}, nil
	case t == "3" || strings.HasPrefix(t, "remove") || strings.HasPrefix(t, "delete"):
		return Transition{State: convo.StateCartRemoveItem, Cart: cart,
			Reply: "Which item should I remove?\n" + cartLines(cart)}, nil
	case t == "4" || t == "cancel order":
		return Transition{State: convo.StateIdle, Cart: convo.WorkingCart{},
			Reply: "Your cart has been cleared. " + restartHint, Kind: KindReset}, nil
	case t == "5" || t == "summary":
		return Transition{State: convo.StateConfirmingOrder, Cart: cart, Reply: joinReply(CartSummary(cart), confirmMenu)}, nil
	}
	return m.retry(ctx, in, editMenu), nil
}

func (m *Machine) handleEditItem(ctx context.Context, in Input) (Transition, error) {
	cart := in.Cart
	if len(cart.Cart) == 0 {
		return m.lostContext(in, "cart"), nil
	}
	prompt := "Reply with the line number:\n" + cartLines(cart)
	n, ok := ParseChoice(in.Text)
	if !ok {
		return m.retry(ctx, in, prompt), nil
	}
	if n < 1 || n > len(cart.Cart) {
		return m.invalidChoice(ctx, in, prompt), nil
	}
	idx := n - 1
	cart.Item = &convo.Selection{EditIndex: &idx}
	l := cart.Cart[idx]
	return Transition{
		State: convo.StateCartEditQty,
		Cart:  cart,
		Reply: fmt.Sprintf("%s currently x %d. Send the new quantity (0 removes it).", l.Label(), l.Qty),
	}, nil
}

func (m *Machine) handleEditQty(ctx context.Context, in Input) (Transition, error) {
	cart := in.Cart
	if cart.Item == nil || cart.Item.EditIndex == nil || *cart.Item.EditIndex < 0 || *cart.Item.EditIndex >= len(cart.Cart) {
		return m.lostContext(in, "edit_line"), nil
	}
	idx := *cart.Item.EditIndex
	t := strings.TrimSpace(in.Text)
	var note string
	if t == "0" {
		note = fmt.Sprintf("Removed %s.", cart.Cart[idx].Label())
		cart.RemoveLine(idx)
	} else {
		qty, ok := ParseQuantity(t)
		if !ok {
			return m.retry(ctx, in, "Send the new quantity as a number (0 removes the item)."), nil
		}
		cart.Cart[idx].Qty = qty
		note = fmt.Sprintf("Updated %s to %d.", cart.Cart[idx].Label(), qty)
	}
	cart.ResetSelection()
	return m.backToSummary(cart, note), nil
}

func (m *Machine) handleRemoveItem(ctx context.Context, in Input) (Transition, error) {
	cart := in.Cart
	if len(cart.Cart) == 0 {
		return m.lostContext(in, "cart"), nil
	}
	prompt := "Reply with the line number to remove:\n" + cartLines(cart)
	n, ok := ParseChoice(in.Text)
	if !ok {
		return m.retry(ctx, in, prompt), nil
	}
	if n < 1 || n > len(cart.Cart) {
		return m.invalidChoice(ctx, in, prompt), nil
	}
	note := fmt.Sprintf("Removed %s.", cart.Cart[n-1].Label())
	cart.RemoveLine(n - 1)
	cart.ResetSelection()
	return m.backToSummary(cart, note), nil
}

func (m *Machine) backToSummary(cart convo.WorkingCart, note string) Transition {
	if len(cart.Cart) == 0 {
		return Transition{State: convo.StateIdle, Cart: convo.WorkingCart{},
			Reply: joinReply(note, "Your cart is now empty. "+restartHint)}
	}
	return Transition{State: convo.StateConfirmingOrder, Cart: cart, Reply: joinReply(note, CartSummary(cart), confirmMenu)}
}
