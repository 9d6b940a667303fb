package flow

import (
	"fmt"
	"strings"

	"chat_order/internal/convo"
)

const confirmMenu = "1. Confirm order\n2. Edit cart"

const editMenu = "What would you like to change?\n1. Add another item\n2. Change a quantity\n3. Remove an item\n4. Cancel order\n5. Back to summary"

const paymentMenu = "How would you like to pay?\n1. Cash\n2. Card\n3. UPI\n4. Pay online (link)"

// Money 以最小货币单位（分/paise）格式化金额。
func Money(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	if minor%100 == 0 {
		return fmt.Sprintf("%s₹%d", sign, minor/100)
	}
	return fmt.Sprintf("%s₹%d.%02d", sign, minor/100, minor%100)
}

// CartSummary 购物车明细与小计。
func CartSummary(cart convo.WorkingCart) string {
	var b strings.Builder
	b.WriteString("Your order:\n")
	b.WriteString(cartLines(cart))
	fmt.Fprintf(&b, "\nSubtotal: %s", Money(cart.Subtotal()))
	return b.String()
}

func cartLines(cart convo.WorkingCart) string {
	lines := make([]string, 0, len(cart.Cart))
	for i, l := range cart.Cart {
		lines = append(lines, fmt.Sprintf("%d. %s x %d = %s", i+1, l.Label(), l.Qty, Money(l.Amount())))
	}
	return strings.Join(lines, "\n")
}

func numbered(labels []string) string {
	lines := make([]string, len(labels))
	for i, l := range labels {
		lines[i] = fmt.Sprintf("%d. %s", i+1, l)
	}
	return strings.Join(lines, "\n")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
