package convo

import "strings"

// State 是按 (tenant, customer) 持久化的会话状态。
type State string

const (
	StateIdle                  State = "idle"
	StateOrderingItem          State = "ordering_item"
	StateOrderingVariant       State = "ordering_variant"
	StateOrderingQty           State = "ordering_qty"
	StateOrderingUpsell        State = "ordering_upsell"
	StateConfirmingOrder       State = "confirming_order"
	StateCartEditMenu          State = "cart_edit_menu"
	StateCartEditItem          State = "cart_edit_item"
	StateCartEditQty           State = "cart_edit_qty"
	StateCartRemoveItem        State = "cart_remove_item"
	StateAwaitingFulfillment   State = "awaiting_fulfillment"
	StateAwaitingAddress       State = "awaiting_address"
	StateAwaitingLocationPin   State = "awaiting_location_pin"
	StateAwaitingPayment       State = "awaiting_payment"
	StateAwaitingPaymentProof  State = "awaiting_payment_proof"
	StateAwaitingPickupPayment State = "awaiting_pickup_payment"
	StateAgent                 State = "agent"
)

// AllStates 按流程顺序列出全部状态。
var AllStates = []State{
	StateIdle,
	StateOrderingItem,
	StateOrderingVariant,
	StateOrderingQty,
	StateOrderingUpsell,
	StateConfirmingOrder,
	StateCartEditMenu,
	StateCartEditItem,
	StateCartEditQty,
	StateCartRemoveItem,
	StateAwaitingFulfillment,
	StateAwaitingAddress,
	StateAwaitingLocationPin,
	StateAwaitingPayment,
	StateAwaitingPaymentProof,
	StateAwaitingPickupPayment,
	StateAgent,
}

// ParseState 把存储值还原为状态；未知或损坏的值一律归为 idle。
func ParseState(raw string) State {
	s := State(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllStates {
		if s == known {
			return s
		}
	}
	return StateIdle
}

// IsCheckout 涉及金额/物流的状态，不允许被咨询类意图打断。
func (s State) IsCheckout() bool {
	switch s {
	case StateAwaitingFulfillment,
		StateAwaitingAddress,
		StateAwaitingLocationPin,
		StateAwaitingPayment,
		StateAwaitingPaymentProof,
		StateAwaitingPickupPayment:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }
