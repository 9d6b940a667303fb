package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chat_order/internal/convo"
	"chat_order/internal/metrics"
	"chat_order/internal/model"
	"chat_order/internal/queue"
	"chat_order/internal/quote"
)

const (
	fulfillmentPrompt = "Would you like pickup or delivery?\n1. Pickup\n2. Delivery"
	addressPrompt     = "Please send your full delivery address (house/flat number, street, area)."
	pinPrompt         = "Now share your location pin so we can calculate the delivery fee, or type *skip*."
)

// 支付方式关键词
var paymentModes = []struct {
	mode  string
	words []string
}{
	{model.PaymentModeCash, []string{"1", "cash", "cod", "cash on delivery", "cash on pickup"}},
	{model.PaymentModeCard, []string{"2", "card", "credit card", "debit card", "swipe"}},
	{model.PaymentModeUPI, []string{"3", "upi", "gpay", "google pay", "phonepe", "paytm", "qr"}},
	{model.PaymentModeOnline, []string{"4", "online", "link", "pay online", "payment link", "pay now"}},
}

func parsePaymentMode(t string) string {
	for _, pm := range paymentModes {
		if hasPhrase(t, pm.words) {
			return pm.mode
		}
	}
	return ""
}

// orderFor 结算类状态都依赖一笔未完成订单，找不到时按上下文丢失处理。
func (m *Machine) orderFor(ctx context.Context, in Input) (*model.Order, *Transition, error) {
	o, err := m.openOrder(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	if o == nil {
		t := m.lostContext(in, "order")
		return nil, &t, nil
	}
	return o, nil, nil
}

// leaveForMerchant 结算步骤多次无法识别时退出流程，订单保留由商户跟进。
func (m *Machine) leaveForMerchant(ctx context.Context, in Input, o *model.Order, prompt string) Transition {
	t := m.retry(ctx, in, prompt)
	if t.Kind == KindReset {
		m.log.Info("checkout abandoned, order left for merchant", "order_no", o.OrderNo, "state", in.State)
		t.Reply = fmt.Sprintf("No problem. Order %s is saved and the store will contact you to complete it.", o.OrderNo)
		t.OrderID, t.OrderNo = o.ID, o.OrderNo
	}
	return t
}

func (m *Machine) handleFulfillment(ctx context.Context, in Input) (Transition, error) {
	o, lost, err := m.orderFor(ctx, in)
	if err != nil || lost != nil {
		return deref(lost), err
	}
	t := strings.TrimSpace(in.Text)
	switch {
	case t == "1" || hasWord(t, []string{"pickup", "pick", "collect", "takeaway", "parcel", "self"}):
		if err := m.updateOrder(ctx, o, map[string]any{
			"fulfillment_type": model.FulfillmentPickup,
			"delivery_fee":     int64(0),
			"total":            o.Subtotal,
			"delivery_status":  model.DeliveryPickup,
		}); err != nil {
			return Transition{}, err
		}
		o.DeliveryFee, o.Total = 0, o.Subtotal
		return m.offerPickupPayment(ctx, in, o)
	case t == "2" || hasWord(t, []string{"delivery", "deliver", "home", "door"}):
		if err := m.updateOrder(ctx, o, map[string]any{
			"fulfillment_type": model.FulfillmentDelivery,
			"delivery_status":  model.DeliveryPendingAddress,
		}); err != nil {
			return Transition{}, err
		}
		return Transition{State: convo.StateAwaitingAddress, Reply: addressPrompt, OrderID: o.ID, OrderNo: o.OrderNo}, nil
	}
	return m.leaveForMerchant(ctx, in, o, fulfillmentPrompt), nil
}

// offerPickupPayment 自提：尽量先拿到支付链接，失败则提示到店付款或扫码。
func (m *Machine) offerPickupPayment(ctx context.Context, in Input, o *model.Order) (Transition, error) {
	head := fmt.Sprintf("Pickup it is. Total: %s.", Money(o.Total))
	tr := Transition{State: convo.StateAwaitingPickupPayment, OrderID: o.ID, OrderNo: o.OrderNo, Kind: KindPayment}
	if url, ok := m.paymentLink(ctx, o, model.PaymentModeOnline); ok {
		tr.Reply = joinReply(head, "Pay now: "+url, "Or reply *2* to pay at the counter.")
		return tr, nil
	}
	if img, text, ok := staticPayment(in.Tenant, o); ok {
		tr.ImageURL = img
		tr.Reply = joinReply(head, text, "Or reply *2* to pay at the counter.")
		return tr, nil
	}
	tr.Reply = joinReply(head, "Reply *2* to pay at the counter when you collect it.")
	return tr, nil
}

func (m *Machine) handleAddress(ctx context.Context, in Input) (Transition, error) {
	o, lost, err := m.orderFor(ctx, in)
	if err != nil || lost != nil {
		return deref(lost), err
	}
	cart := in.Cart
	if in.Location != nil {
		return m.quoteAndProceed(ctx, in, o, cart, in.Location)
	}
	if !LooksLikeAddress(in.Raw) {
		n := m.incAttempts(ctx, in)
		if n >= m.deps.MaxAttempts {
			m.cancelOrder(ctx, o)
			m.resetAttempts(ctx, in)
			m.log.Info("address capture abandoned", "order_no", o.OrderNo, "attempts", n)
			return Transition{
				State: convo.StateIdle,
				Reply: fmt.Sprintf("I couldn't get a delivery address, so order %s has been cancelled. %s", o.OrderNo, restartHint),
				Kind:  KindReset,
			}, nil
		}
		prompt := addressPrompt
		if n > 1 {
			prompt = "That still doesn't look like an address. Example: *12, 3rd Cross Street, Anna Nagar, Chennai*."
		}
		return Transition{State: convo.StateAwaitingAddress, Cart: cart, Reply: prompt, Kind: KindRetry}, nil
	}

	addr := strings.TrimSpace(in.Raw)
	if err := m.updateOrder(ctx, o, map[string]any{"address": addr}); err != nil {
		return Transition{}, err
	}
	return Transition{
		State:   convo.StateAwaitingLocationPin,
		Cart:    cart,
		Reply:   "Got it: " + addr + "\n\n" + pinPrompt,
		OrderID: o.ID,
		OrderNo: o.OrderNo,
	}, nil
}

func (m *Machine) handleLocationPin(ctx context.Context, in Input) (Transition, error) {
	o, lost, err := m.orderFor(ctx, in)
	if err != nil || lost != nil {
		return deref(lost), err
	}
	cart := in.Cart
	if in.Location != nil {
		return m.quoteAndProceed(ctx, in, o, cart, in.Location)
	}
	if !isSkip(in.Text) {
		n := m.incAttempts(ctx, in)
		if n < m.deps.MaxAttempts {
			return Transition{State: convo.StateAwaitingLocationPin, Cart: cart,
				Reply: "Please share your location pin, or type *skip* to continue without it.", Kind: KindRetry}, nil
		}
		// 多次无效输入按 skip 处理
	}
	return m.quoteAndProceed(ctx, in, o, cart, m.geocode(ctx, o))
}

// geocode 用已保存的地址文本尽力解析坐标，失败返回 nil。
func (m *Machine) geocode(ctx context.Context, o *model.Order) *quote.Coord {
	if m.deps.Geocoder == nil || strings.TrimSpace(o.Address) == "" {
		return nil
	}
	c, err := m.deps.Geocoder.Geocode(ctx, o.Address)
	if err != nil {
		m.log.Warn("geocode failed, deferring fee", "order_no", o.OrderNo, "error", err)
		return nil
	}
	return c
}

// quoteAndProceed 报价：too_far 退回地址，其余失败让商户确认运费，成功写入费用。
func (m *Machine) quoteAndProceed(ctx context.Context, in Input, o *model.Order, cart convo.WorkingCart, customer *quote.Coord) (Transition, error) {
	q, err := quote.Compute(in.Tenant.StoreCoord(), customer, in.Tenant.Pricing())
	patch := map[string]any{}
	if customer != nil {
		patch["lat"], patch["lng"] = customer.Lat, customer.Lng
	}

	var fail *quote.Failure
	switch {
	case err == nil:
		metrics.QuoteResults.WithLabelValues("ok").Inc()
		patch["distance_km"] = q.DistanceKm
		patch["delivery_fee"] = q.Fee
		patch["total"] = o.Subtotal + q.Fee
		patch["delivery_status"] = model.DeliveryQuoted
		if err := m.updateOrder(ctx, o, patch); err != nil {
			return Transition{}, err
		}
		fee := "Delivery is free."
		if q.Fee > 0 {
			fee = fmt.Sprintf("Delivery fee: %s (%.1f km).", Money(q.Fee), q.DistanceKm)
		}
		cart.TooFarCount = 0
		return Transition{
			State:   convo.StateAwaitingPayment,
			Cart:    cart,
			Reply:   joinReply(fee, fmt.Sprintf("Total: %s.", Money(o.Subtotal+q.Fee)), paymentMenu),
			OrderID: o.ID,
			OrderNo: o.OrderNo,
		}, nil

	case errors.As(err, &fail) && fail.Reason == quote.ReasonTooFar:
		metrics.QuoteResults.WithLabelValues(string(fail.Reason)).Inc()
		cart.TooFarCount++
		m.log.Info("delivery too far", "order_no", o.OrderNo, "distance_km", fail.DistanceKm, "max_km", fail.MaxKm,
			"retries", cart.TooFarCount)
		if m.deps.TooFarRetryLimit > 0 && cart.TooFarCount >= m.deps.TooFarRetryLimit {
			m.cancelOrder(ctx, o)
			return Transition{
				State: convo.StateIdle,
				Reply: fmt.Sprintf("Sorry, we can only deliver within %.1f km, so order %s has been cancelled.", fail.MaxKm, o.OrderNo),
				Kind:  KindReset,
			}, nil
		}
		return Transition{
			State: convo.StateAwaitingAddress,
			Cart:  cart,
			Reply: fmt.Sprintf("That location is %.1f km away, but we deliver only within %.1f km. Please send a closer address.",
				fail.DistanceKm, fail.MaxKm),
			OrderID: o.ID,
			OrderNo: o.OrderNo,
		}, nil

	default:
		reason := "unknown"
		if errors.As(err, &fail) {
			reason = string(fail.Reason)
		}
		metrics.QuoteResults.WithLabelValues(reason).Inc()
		m.log.Info("delivery fee deferred to merchant", "order_no", o.OrderNo, "reason", reason)
		patch["delivery_status"] = model.DeliveryPendingAddress
		if err := m.updateOrder(ctx, o, patch); err != nil {
			return Transition{}, err
		}
		return Transition{
			State:   convo.StateAwaitingPayment,
			Cart:    cart,
			Reply:   joinReply("The store will confirm the delivery fee shortly.", fmt.Sprintf("Items total: %s.", Money(o.Subtotal)), paymentMenu),
			OrderID: o.ID,
			OrderNo: o.OrderNo,
		}, nil
	}
}

func (m *Machine) handlePayment(ctx context.Context, in Input) (Transition, error) {
	o, lost, err := m.orderFor(ctx, in)
	if err != nil || lost != nil {
		return deref(lost), err
	}
	if isPaid(in.Text) {
		return Transition{State: convo.StateAwaitingPayment,
			Reply: joinReply("Please choose a payment method first.", paymentMenu), OrderID: o.ID, OrderNo: o.OrderNo}, nil
	}
	mode := parsePaymentMode(in.Text)
	switch mode {
	case model.PaymentModeCash, model.PaymentModeCard:
		return m.confirmOffline(ctx, o, mode)
	case model.PaymentModeUPI, model.PaymentModeOnline:
		return m.requestOnline(ctx, in, o, mode, convo.StateAwaitingPaymentProof)
	}
	return m.leaveForMerchant(ctx, in, o, paymentMenu), nil
}

// confirmOffline 现金/刷卡：订单直接交给商户处理。
func (m *Machine) confirmOffline(ctx context.Context, o *model.Order, mode string) (Transition, error) {
	if err := m.updateOrder(ctx, o, map[string]any{
		"payment_mode": mode,
		"status":       model.OrderConfirmed,
	}); err != nil {
		return Transition{}, err
	}
	o.Status = model.OrderConfirmed
	m.publish(ctx, queue.OrderConfirmed, o, model.OrderConfirmed)
	m.log.Info("order confirmed", "order_no", o.OrderNo, "payment_mode", mode)
	return Transition{
		State:   convo.StateIdle,
		Reply:   fmt.Sprintf("Order %s confirmed! Please pay %s by %s. Thank you!", o.OrderNo, Money(o.Total), mode),
		OrderID: o.ID,
		OrderNo: o.OrderNo,
		Kind:    KindConfirmed,
	}, nil
}

// requestOnline 在线支付：优先托管链接，失败时退回静态收款码。
func (m *Machine) requestOnline(ctx context.Context, in Input, o *model.Order, mode string, wait convo.State) (Transition, error) {
	tr := Transition{State: wait, OrderID: o.ID, OrderNo: o.OrderNo, Kind: KindPayment}
	if url, ok := m.paymentLink(ctx, o, mode); ok {
		tr.Reply = fmt.Sprintf("Pay %s here: %s\n\nWe'll confirm as soon as the payment comes through.", Money(o.Total), url)
		return tr, nil
	}
	if img, text, ok := staticPayment(in.Tenant, o); ok {
		if err := m.updateOrder(ctx, o, map[string]any{"payment_mode": mode, "payment_status": model.PaymentPending}); err != nil {
			return Transition{}, err
		}
		tr.ImageURL = img
		tr.Reply = text
		return tr, nil
	}
	return Transition{
		State:   in.State,
		Reply:   joinReply("Online payment isn't available right now.", "Reply *1* for cash or *2* for card."),
		OrderID: o.ID,
		OrderNo: o.OrderNo,
	}, nil
}

// paymentLink 调用支付服务生成链接并写回订单，任何失败都返回 false。
func (m *Machine) paymentLink(ctx context.Context, o *model.Order, mode string) (string, bool) {
	if m.deps.Payments == nil {
		return "", false
	}
	if o.PaymentLinkURL != "" {
		return o.PaymentLinkURL, true
	}
	link, err := m.deps.Payments.CreatePaymentLink(ctx, o.TenantID, o.OrderNo, o.Total)
	if err != nil {
		m.log.Warn("payment link unavailable, falling back", "order_no", o.OrderNo, "error", err)
		return "", false
	}
	if err := m.updateOrder(ctx, o, map[string]any{
		"payment_mode":     mode,
		"payment_status":   model.PaymentPending,
		"payment_link_id":  link.ID,
		"payment_link_url": link.URL,
	}); err != nil {
		m.log.Error("save payment link failed", "order_no", o.OrderNo, "error", err)
		return "", false
	}
	o.PaymentLinkID, o.PaymentLinkURL = link.ID, link.URL
	return link.URL, true
}

// staticPayment 商户配置的收款码 / UPI ID。
func staticPayment(t *model.Tenant, o *model.Order) (string, string, bool) {
	if t == nil || (t.PaymentQRURL == "" && t.UPIID == "") {
		return "", "", false
	}
	text := fmt.Sprintf("Please pay %s", Money(o.Total))
	if t.UPIID != "" {
		text += " to UPI ID " + t.UPIID
	}
	if t.PaymentQRURL != "" {
		text += " using the QR code"
	}
	text += fmt.Sprintf(" and mention order %s. Reply *paid* once done.", o.OrderNo)
	return t.PaymentQRURL, text, true
}

func (m *Machine) handlePaymentProof(ctx context.Context, in Input) (Transition, error) {
	return m.awaitPayment(ctx, in, paymentMenu)
}

func (m *Machine) handlePickupPayment(ctx context.Context, in Input) (Transition, error) {
	t := strings.TrimSpace(in.Text)
	if t == "2" || hasWord(t, []string{"counter", "store", "shop"}) {
		o, lost, err := m.orderFor(ctx, in)
		if err != nil || lost != nil {
			return deref(lost), err
		}
		return m.confirmOffline(ctx, o, model.PaymentModeCash)
	}
	return m.awaitPayment(ctx, in, "Reply *1* for the payment link or *2* to pay at the counter.")
}

// awaitPayment 等待支付：客户说"已付"只做软确认，真实状态以支付回调为准。
func (m *Machine) awaitPayment(ctx context.Context, in Input, prompt string) (Transition, error) {
	o, err := m.openOrder(ctx, in, model.OrderAwaitingCustomerAction, model.OrderConfirmed)
	if err != nil {
		return Transition{}, err
	}
	if o == nil {
		return m.lostContext(in, "order"), nil
	}
	if o.PaymentStatus == model.PaymentPaid {
		return Transition{State: convo.StateIdle, OrderID: o.ID, OrderNo: o.OrderNo, Kind: KindConfirmed,
			Reply: fmt.Sprintf("Payment received for order %s. Thank you!", o.OrderNo)}, nil
	}
	if isPaid(in.Text) {
		m.log.Info("customer reported payment", "order_no", o.OrderNo)
		return Transition{State: convo.StateIdle, OrderID: o.ID, OrderNo: o.OrderNo, Kind: KindPayment,
			Reply: fmt.Sprintf("Thanks! We'll confirm order %s as soon as the payment is verified.", o.OrderNo)}, nil
	}

	switch mode := parsePaymentMode(in.Text); mode {
	case model.PaymentModeCash, model.PaymentModeCard:
		// 自提等待状态里 "1" 表示重新发送链接，"cash"/"card" 仍是线下付款
		if in.State == convo.StateAwaitingPickupPayment && strings.TrimSpace(in.Text) == "1" {
			return m.requestOnline(ctx, in, o, model.PaymentModeOnline, in.State)
		}
		return m.confirmOffline(ctx, o, mode)
	case model.PaymentModeUPI, model.PaymentModeOnline:
		return m.requestOnline(ctx, in, o, mode, in.State)
	}
	return m.leaveForMerchant(ctx, in, o, prompt), nil
}

func (m *Machine) handleAgent(ctx context.Context, in Input) (Transition, error) {
	return Transition{State: convo.StateAgent, Cart: in.Cart, Kind: KindAgent}, nil
}

func deref(t *Transition) Transition {
	if t == nil {
		return Transition{}
	}
	return *t
}
