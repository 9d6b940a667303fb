// Package intent 咨询类意图路由：租户覆盖规则 -> 静态关键词规则 -> LLM 兜底，以及纠错学习。
package intent

import (
	"regexp"
	"strings"
)

// Lane 咨询类意图分类。
type Lane string

const (
	LaneMenu                 Lane = "menu"
	LaneOpeningHours         Lane = "opening_hours"
	LaneContact              Lane = "contact"
	LaneStoreLocation        Lane = "store_location"
	LaneDeliveryTimeSpecific Lane = "delivery_time_specific"
	LaneDeliveryNow          Lane = "delivery_now"
	LaneDeliveryArea         Lane = "delivery_area"
	LanePricing              Lane = "pricing"
	LaneHumanHelp            Lane = "human_help"
	LaneUnknown              Lane = "unknown"
)

// AllLanes 封闭标签集，也是 LLM 可输出的全部取值。
var AllLanes = []Lane{
	LaneMenu, LaneOpeningHours, LaneContact, LaneStoreLocation, LaneDeliveryTimeSpecific,
	LaneDeliveryNow, LaneDeliveryArea, LanePricing, LaneHumanHelp, LaneUnknown,
}

// ParseLane 未知值返回 LaneUnknown。
func ParseLane(s string) Lane {
	l := Lane(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllLanes {
		if l == known {
			return l
		}
	}
	return LaneUnknown
}

// IsInformational 可以直接给出咨询回复、不进入下单状态机的分类。
func (l Lane) IsInformational() bool {
	switch l {
	case LaneMenu, LaneOpeningHours, LaneContact, LaneStoreLocation,
		LaneDeliveryTimeSpecific, LaneDeliveryNow, LaneDeliveryArea, LanePricing:
		return true
	}
	return false
}

// NeedsParameter 语义依赖句中参数（具体时间、具体区域）的分类，纠错学习需要额外证据。
func (l Lane) NeedsParameter() bool {
	return l == LaneDeliveryArea || l == LaneDeliveryTimeSpecific
}

// Source 决策来源。
type Source string

const (
	SourceOverride Source = "override"
	SourceRules    Source = "rules"
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
)

var (
	terminalPunct = regexp.MustCompile(`[\s.!?,;:~]+$`)
	spaces        = regexp.MustCompile(`\s+`)
)

// Normalize 小写、去掉句末标点、合并空白。覆盖规则的 pattern 与输入都走这里。
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = terminalPunct.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
