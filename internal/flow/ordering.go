package flow

import (
	"context"
	"fmt"
	"strings"

	"chat_order/internal/catalog"
	"chat_order/internal/convo"
)

const (
	restartHint   = "Type *menu* to see what we have or send an item name to start a new order."
	sampleMenuLen = 5
)

func (m *Machine) handleIdle(ctx context.Context, in Input) (Transition, error) {
	items, err := m.items(ctx, in.TenantID)
	if err != nil {
		return Transition{}, err
	}
	cart := in.Cart
	if len(items) == 0 {
		return Transition{State: convo.StateIdle, Cart: cart, Reply: "Our menu isn't available right now. Please try again in a little while."}, nil
	}

	if entries := ParseMultiItem(in.Raw); entries != nil {
		cart.ResetSelection()
		cart.SetQueue(entries)
		if t, ok := m.resolveQueue(items, &cart, ""); ok {
			return t, nil
		}
		return m.noMatch(ctx, in, items, cart), nil
	}

	if t, ok := m.resolveQuery(items, &cart, in.Text, QtyHint(in.Text)); ok {
		return t, nil
	}
	return m.noMatch(ctx, in, items, cart), nil
}

// noMatch idle 下找不到商品：计数并给出示例菜单，提示语随次数升级。
func (m *Machine) noMatch(ctx context.Context, in Input, items []catalog.Item, cart convo.WorkingCart) Transition {
	n := m.incAttempts(ctx, in)
	cart.ClearQueue()
	cart.ResetSelection()
	lead := "Sorry, I couldn't find that item."
	if n >= m.deps.MaxAttempts {
		lead = "I'm still not able to match that to our menu. You can type *help* or *agent* to reach the store."
	}
	return Transition{
		State: convo.StateIdle,
		Cart:  cart,
		Reply: joinReply(lead, sampleMenu(items)),
		Kind:  KindRetry,
	}
}

// resolveQuery 全局检索一次。返回 false 表示 NoMatch，由调用方决定下一步。
func (m *Machine) resolveQuery(items []catalog.Item, cart *convo.WorkingCart, query string, qtyHint int) (Transition, bool) {
	res := catalog.Search(items, query)
	switch res.Kind {
	case catalog.Matched:
		if len(res.Variants) == 1 {
			return m.selectProduct(cart, res.Variants[0], qtyHint), true
		}
		return m.offerVariants(cart, res.Canonical, res.Variants, qtyHint), true
	case catalog.Ambiguous:
		cart.Item = &convo.Selection{QtyHint: qtyHint}
		cart.List = make([]convo.Candidate, 0, len(res.Canonicals))
		for _, rep := range res.Canonicals {
			cart.List = append(cart.List, convo.Candidate{
				Canonical: rep.Canonical,
				Label:     fmt.Sprintf("%s (from %s)", titleCase(rep.Canonical), Money(catalog.MinPrice(items, rep.Canonical))),
			})
		}
		return Transition{
			State: convo.StateOrderingItem,
			Cart:  *cart,
			Reply: "I found a few matches. Which one would you like?\n" + numbered(candidateLabels(cart.List)),
		}, true
	}
	return Transition{}, false
}

// resolveQueue 从游标处开始解析排队项，找不到的项跳过。
func (m *Machine) resolveQueue(items []catalog.Item, cart *convo.WorkingCart, prefix string) (Transition, bool) {
	var skipped []string
	entry, ok := cart.CurrentQueued()
	for ok {
		if t, matched := m.resolveQuery(items, cart, entry.Name, entry.Qty); matched {
			t.Reply = joinReply(prefix, skippedNote(skipped), t.Reply)
			return t, true
		}
		skipped = append(skipped, entry.Name)
		entry, ok = cart.AdvanceQueue()
	}
	return Transition{Reply: joinReply(prefix, skippedNote(skipped))}, false
}

func (m *Machine) selectProduct(cart *convo.WorkingCart, it catalog.Item, qtyHint int) Transition {
	item := it
	cart.Item = &convo.Selection{Canonical: it.Canonical, Product: &item, QtyHint: qtyHint}
	cart.List = nil
	return Transition{State: convo.StateOrderingQty, Cart: *cart, Reply: qtyPrompt(it, qtyHint)}
}

func (m *Machine) offerVariants(cart *convo.WorkingCart, canonical string, variants []catalog.Item, qtyHint int) Transition {
	cart.Item = &convo.Selection{Canonical: canonical, QtyHint: qtyHint}
	cart.List = variantCandidates(variants)
	return Transition{
		State: convo.StateOrderingVariant,
		Cart:  *cart,
		Reply: fmt.Sprintf("Which %s would you like?\n%s", titleCase(canonical), numbered(candidateLabels(cart.List))),
	}
}

func (m *Machine) handleOrderingItem(ctx context.Context, in Input) (Transition, error) {
	cart := in.Cart
	if len(cart.List) == 0 {
		return m.lostContext(in, "item_list"), nil
	}
	items, err := m.items(ctx, in.TenantID)
	if err != nil {
		return Transition{}, err
	}
	prompt := "Reply with a number:\n" + numbered(candidateLabels(cart.List))
	qtyHint := 0
	if cart.Item != nil {
		qtyHint = cart.Item.QtyHint
	}

	var picked *convo.Candidate
	if n, ok := ParseChoice(in.Text); ok {
		if n < 1 || n > len(cart.List) {
			return m.invalidChoice(ctx, in, prompt), nil
		}
		picked = &cart.List[n-1]
	} else {
		hits := catalog.MatchCandidateLabel(candidateLabels(cart.List), in.Text)
		switch {
		case len(hits) == 1:
			picked = &cart.List[hits[0]]
		case len(hits) > 1:
			narrowed := make([]convo.Candidate, 0, len(hits))
			for _, i := range hits {
				narrowed = append(narrowed, cart.List[i])
			}
			cart.List = narrowed
			return Transition{State: convo.StateOrderingItem, Cart: cart,
				Reply: "Which one exactly?\n" + numbered(candidateLabels(cart.List))}, nil
		default:
			// 列表里没有，退回全局检索（用户可能换了个商品）
			if t, ok := m.resolveQuery(items, &cart, in.Text, QtyHint(in.Text)); ok {
				return t, nil
			}
			return m.retry(ctx, in, prompt), nil
		}
	}

	variants := catalog.Variants(items, picked.Canonical)
	switch len(variants) {
	case 0:
		return m.lostContext(in, "catalog_item"), nil
	case 1:
		return m.selectProduct(&cart, variants[0], qtyHint), nil
	default:
		return m.offerVariants(&cart, picked.Canonical, variants, qtyHint), nil
	}
}

func (m *Machine) handleOrderingVariant(ctx context.Context, in Input) (Transition, error) {
	cart := in.Cart
	if len(cart.List) == 0 {
		return m.lostContext(in, "variant_list"), nil
	}
	items, err := m.items(ctx, in.TenantID)
	if err != nil {
		return Transition{}, err
	}
	prompt := "Reply with a number:\n" + numbered(candidateLabels(cart.List))
	qtyHint := 0
	if cart.Item != nil {
		qtyHint = cart.Item.QtyHint
	}

	if n, ok := ParseChoice(in.Text); ok {
		if n < 1 || n > len(cart.List) {
			return m.invalidChoice(ctx, in, prompt), nil
		}
		it, found := catalog.FindByID(items, cart.List[n-1].ItemID)
		if !found {
			return m.lostContext(in, "catalog_item"), nil
		}
		return m.selectProduct(&cart, it, qtyHint), nil
	}

	// 只在当前候选规格里匹配，不回落到全局检索，避免 "large" 被当成新商品
	var listed []catalog.Item
	for _, c := range cart.List {
		if it, ok := catalog.FindByID(items, c.ItemID); ok {
			listed = append(listed, it)
		}
	}
	if len(listed) == 0 {
		return m.lostContext(in, "catalog_item"), nil
	}
	matched := catalog.MatchVariants(listed, in.Text)
	switch {
	case len(matched) == 1:
		return m.selectProduct(&cart, matched[0], qtyHint), nil
	case len(matched) > 1:
		cart.List = variantCandidates(matched)
		return Transition{State: convo.StateOrderingVariant, Cart: cart,
			Reply: "Which one exactly?\n" + numbered(candidateLabels(cart.List))}, nil
	}
	return m.retry(ctx, in, prompt), nil
}

func (m *Machine) handleOrderingQty(ctx context.Context, in Input) (Transition, error) {
	cart := in.Cart
	if cart.Item == nil || cart.Item.Product == nil {
		return m.lostContext(in, "selected_item"), nil
	}
	product := *cart.Item.Product

	qty, ok := ParseQuantity(in.Text)
	if !ok && cart.Item.QtyHint > 0 && isYes(in.Text) {
		qty, ok = cart.Item.QtyHint, true
	}
	if !ok {
		return m.retry(ctx, in, qtyPrompt(product, cart.Item.QtyHint)), nil
	}

	cart.AddLine(convo.LineItem{
		ProductID: product.ID,
		Name:      product.Name(),
		Variant:   product.Variant,
		Qty:       qty,
		UnitPrice: product.UnitPrice,
	})
	added := fmt.Sprintf("Added %d x %s.", qty, product.Label())

	items, err := m.items(ctx, in.TenantID)
	if err != nil {
		return Transition{}, err
	}
	return m.afterAdd(items, cart, product, added), nil
}

// afterAdd 加购推荐（每个商品最多一次），否则推进队列或进入确认。
func (m *Machine) afterAdd(items []catalog.Item, cart convo.WorkingCart, product catalog.Item, prefix string) Transition {
	if product.UpsellItemID != 0 && product.UpsellItemID != product.ID && !cart.UpsellOffered(product.ID) {
		if up, ok := catalog.FindByID(items, product.UpsellItemID); ok {
			cart.UpsellsOffered = append(cart.UpsellsOffered, product.ID)
			upsell := up
			cart.Item = &convo.Selection{Upsell: &upsell}
			cart.List = nil
			return Transition{
				State: convo.StateOrderingUpsell,
				Cart:  cart,
				Reply: joinReply(prefix, upsellPrompt(up)),
			}
		}
	}
	return m.advance(items, cart, prefix)
}

// advance 队列还有下一项时继续解析，否则进入确认。
func (m *Machine) advance(items []catalog.Item, cart convo.WorkingCart, prefix string) Transition {
	cart.ResetSelection()
	if cart.QueueActive() {
		if _, ok := cart.AdvanceQueue(); ok {
			t, matched := m.resolveQueue(items, &cart, prefix)
			if matched {
				return t
			}
			prefix = t.Reply
		}
	}
	cart.ClearQueue()
	if len(cart.Cart) == 0 {
		return Transition{State: convo.StateIdle, Cart: cart, Reply: joinReply(prefix, "Your cart is empty. "+restartHint)}
	}
	return Transition{
		State: convo.StateConfirmingOrder,
		Cart:  cart,
		Reply: joinReply(prefix, CartSummary(cart), confirmMenu),
	}
}

func (m *Machine) handleOrderingUpsell(ctx context.Context, in Input) (Transition, error) {
	cart := in.Cart
	if cart.Item == nil || cart.Item.Upsell == nil {
		return m.lostContext(in, "upsell_item"), nil
	}
	up := *cart.Item.Upsell
	items, err := m.items(ctx, in.TenantID)
	if err != nil {
		return Transition{}, err
	}

	t := strings.TrimSpace(in.Text)
	switch {
	case t == "1" || isYes(t):
		cart.AddLine(convo.LineItem{ProductID: up.ID, Name: up.Name(), Variant: up.Variant, Qty: 1, UnitPrice: up.UnitPrice})
		return m.advance(items, cart, fmt.Sprintf("Added 1 x %s.", up.Label())), nil
	case t == "2" || t == "3" || isNo(t) || isSkip(t):
		return m.advance(items, cart, ""), nil
	}
	return m.retry(ctx, in, upsellPrompt(up)), nil
}

func qtyPrompt(it catalog.Item, hint int) string {
	if hint > 0 {
		return fmt.Sprintf("%s - %s each. You asked for %d. Reply *yes* to confirm %d or send a different quantity.",
			it.Label(), Money(it.UnitPrice), hint, hint)
	}
	return fmt.Sprintf("%s - %s each. How many would you like? Reply with a number.", it.Label(), Money(it.UnitPrice))
}

func upsellPrompt(up catalog.Item) string {
	return fmt.Sprintf("Would you like to add %s for %s?\n1. Yes\n2. No\n3. Skip", up.Label(), Money(up.UnitPrice))
}

func variantCandidates(variants []catalog.Item) []convo.Candidate {
	out := make([]convo.Candidate, 0, len(variants))
	for _, v := range variants {
		out = append(out, convo.Candidate{
			ItemID:    v.ID,
			Canonical: v.Canonical,
			Label:     fmt.Sprintf("%s - %s", v.Label(), Money(v.UnitPrice)),
			UnitPrice: v.UnitPrice,
		})
	}
	return out
}

func candidateLabels(list []convo.Candidate) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.Label
	}
	return out
}

func sampleMenu(items []catalog.Item) string {
	reps := catalog.Canonicals(items)
	if len(reps) > sampleMenuLen {
		reps = reps[:sampleMenuLen]
	}
	lines := make([]string, 0, len(reps))
	for _, r := range reps {
		lines = append(lines, fmt.Sprintf("- %s (from %s)", titleCase(r.Canonical), Money(catalog.MinPrice(items, r.Canonical))))
	}
	return "Try one of these:\n" + strings.Join(lines, "\n")
}

func skippedNote(skipped []string) string {
	if len(skipped) == 0 {
		return ""
	}
	return "I couldn't find: " + strings.Join(skipped, ", ") + "."
}
