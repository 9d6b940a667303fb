package intent

import (
	"regexp"
	"strings"
)

// RuleAcceptThreshold 静态规则层的最低接受置信度。
const RuleAcceptThreshold = 0.70

var (
	timeExpr   = regexp.MustCompile(`\b\d{1,2}(:\d{2})?\s?(am|pm)\b`)
	nightExpr  = regexp.MustCompile(`\b(night|tonight|midnight)\b`)
	areaSignal = regexp.MustCompile(`\b(to|in|at|near)\s+[a-z]{3,}|\b\d{6}\b|nagar|colony|street|road|layout|sector`)
	questionWh = regexp.MustCompile(`^(what|when|where|why|how|who|which|can you|could you|do you|is there|are you|will you)\b`)
)

// HasTimeExpression 具体时间（9pm / 10:30 am / tonight）。
func HasTimeExpression(text string) bool {
	t := strings.ToLower(text)
	return timeExpr.MatchString(t) || nightExpr.MatchString(t)
}

// HasAreaSignal 句中带有具体区域/地址线索。
func HasAreaSignal(text string) bool {
	return areaSignal.MatchString(strings.ToLower(text))
}

type staticRule struct {
	name       string
	lane       Lane
	confidence float64
	match      func(raw, norm string) bool
}

// containsAny 按词首做包含判断："eta" 不会命中 "vegetables"，"price" 仍能命中 "prices"。
func containsAny(s string, phrases ...string) bool {
	padded := " " + s
	for _, p := range phrases {
		if strings.Contains(padded, " "+p) {
			return true
		}
	}
	return false
}

// staticRules 按顺序匹配，先命中先得。配送相关的三条顺序不能调换：具体时间 > 现在送 > 区域。
var staticRules = []staticRule{
	{
		name: "menu", lane: LaneMenu, confidence: 0.90,
		match: func(_, n string) bool {
			return containsAny(n, "menu", "price list", "what do you have", "what all items", "items available", "what items")
		},
	},
	{
		name: "opening_hours", lane: LaneOpeningHours, confidence: 0.85,
		match: func(_, n string) bool {
			return containsAny(n, "opening time", "open today", "are you open", "you open", "closing time",
				"close today", "timings", "timing", "working hours", "business hours", "shop open", "what time do you")
		},
	},
	{
		name: "contact", lane: LaneContact, confidence: 0.85,
		match: func(_, n string) bool {
			return containsAny(n, "phone number", "contact number", "mobile number", "whatsapp number", "call you", "your number", "contact you")
		},
	},
	{
		name: "store_location", lane: LaneStoreLocation, confidence: 0.85,
		match: func(_, n string) bool {
			return containsAny(n, "where are you", "where is the shop", "where is your shop", "where is the store",
				"shop address", "store address", "your address", "shop location", "store location", "directions", "google map")
		},
	},
	{
		name: "delivery_time_specific", lane: LaneDeliveryTimeSpecific, confidence: 0.90,
		match: func(_, n string) bool {
			return strings.Contains(n, "deliver") && HasTimeExpression(n)
		},
	},
	{
		name: "delivery_now", lane: LaneDeliveryNow, confidence: 0.80,
		match: func(_, n string) bool {
			return containsAny(n, "deliver now", "delivery now", "deliver today", "delivery today", "how long",
				"how much time", "when will", "delivery time", "eta", "deliver immediately")
		},
	},
	{
		name: "delivery_area", lane: LaneDeliveryArea, confidence: 0.80,
		match: func(_, n string) bool {
			return containsAny(n, "deliver to", "deliver in", "do you deliver", "delivery area", "which areas",
				"service area", "delivery available in", "deliver at")
		},
	},
	{
		name: "pricing", lane: LanePricing, confidence: 0.75,
		match: func(_, n string) bool {
			return containsAny(n, "price", "how much", "cost", "rate of", "rate for", "what rate", "charges", "delivery fee", "delivery charge")
		},
	},
	{
		// 像问题但没命中任何具体分类：低于接受阈值，只记录不采纳
		name: "question", lane: LaneHumanHelp, confidence: 0.55,
		match: func(raw, n string) bool {
			return strings.HasSuffix(strings.TrimSpace(raw), "?") || questionWh.MatchString(n)
		},
	},
}

// matchStatic 返回第一条命中的规则；ok=false 表示没有任何规则命中。
func matchStatic(raw, norm string) (staticRule, bool) {
	for _, r := range staticRules {
		if r.match(raw, norm) {
			return r, true
		}
	}
	return staticRule{}, false
}
