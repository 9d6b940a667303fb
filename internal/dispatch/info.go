package dispatch

import (
	"fmt"
	"strings"

	"chat_order/internal/catalog"
	"chat_order/internal/flow"
	"chat_order/internal/intent"
	"chat_order/internal/model"
)

const menuLimit = 15

const helpReply = "To order, just send the item name and quantity, for example *2 chicken biryani, 1 coke*.\n" +
	"Type *menu* to see the menu, *cancel* to start over, or *agent* to talk to the store."

const greetingReply = "Hi! What would you like to order today? Type *menu* to see what we have."

// infoReply 咨询类回复。商户没配置对应资料时给出转人工的提示，不编造内容。
func infoReply(t *model.Tenant, lane intent.Lane, items []catalog.Item) string {
	ask := "I'll check with the store and get back to you. You can also type *agent* to reach them directly."
	switch lane {
	case intent.LaneMenu:
		return menuReply(items)
	case intent.LanePricing:
		if len(items) == 0 {
			return ask
		}
		return joinLines("Here are some of our prices:", priceList(items, 8), "Send an item name to order.")
	case intent.LaneOpeningHours:
		if t.OpeningHours == "" {
			return ask
		}
		return "We're open " + t.OpeningHours + "."
	case intent.LaneContact:
		if t.ContactPhone == "" {
			return ask
		}
		return "You can reach us at " + t.ContactPhone + "."
	case intent.LaneStoreLocation:
		if t.StoreAddress == "" && t.MapsURL == "" {
			return ask
		}
		if t.StoreAddress == "" {
			return "Find us here: " + t.MapsURL
		}
		return joinLines("We're at "+t.StoreAddress+".", t.MapsURL)
	case intent.LaneDeliveryNow:
		if t.DeliveryETA == "" {
			return "Yes, we're taking orders now. Send the item name to get started."
		}
		return fmt.Sprintf("Yes, we deliver now. Usual delivery time is %s. Send the item name to get started.", t.DeliveryETA)
	case intent.LaneDeliveryTimeSpecific:
		return "Scheduled delivery depends on the store's availability. Place your order and mention the time; the store will confirm it with you."
	case intent.LaneDeliveryArea:
		switch {
		case t.DeliveryArea != "":
			return "We deliver to " + t.DeliveryArea + "."
		case t.MaxKm > 0:
			return fmt.Sprintf("We deliver within %.0f km of the store.", t.MaxKm)
		}
		return ask
	}
	return ask
}

func menuReply(items []catalog.Item) string {
	if len(items) == 0 {
		return "Our menu isn't available right now. Please try again in a little while."
	}
	return joinLines("Here's our menu:", priceList(items, menuLimit), "Send the item name and quantity to order, e.g. *2 "+
		strings.ToLower(catalog.Canonicals(items)[0].Canonical)+"*.")
}

func priceList(items []catalog.Item, limit int) string {
	reps := catalog.Canonicals(items)
	more := 0
	if len(reps) > limit {
		more = len(reps) - limit
		reps = reps[:limit]
	}
	lines := make([]string, 0, len(reps)+1)
	for _, r := range reps {
		price := flow.Money(catalog.MinPrice(items, r.Canonical))
		if len(catalog.Variants(items, r.Canonical)) > 1 {
			price = "from " + price
		}
		lines = append(lines, fmt.Sprintf("- %s %s", r.Name(), price))
	}
	if more > 0 {
		lines = append(lines, fmt.Sprintf("...and %d more", more))
	}
	return strings.Join(lines, "\n")
}

func joinLines(parts ...string) string {
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
