package intent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"chat_order/internal/convo"
	"chat_order/internal/logger"
	"chat_order/internal/metrics"
	"chat_order/internal/model"
)

const LearnedConfidence = 0.75

var (
	negationLead = map[string]bool{"no": true, "nope": true, "nah": true, "not": true}

	englishCorrection = []string{
		"i asked", "i meant", "i mean", "wrong", "not that", "i said", "i was asking", "asked about", "thats not",
		"that's not", "not what i",
	}
	// 泰米尔语罗马字："illa/illai"（不是）、"keten"（我问的是）一族
	illaFamily  = regexp.MustCompile(`\b(illa|illai|ilai|illey)\b`)
	ketenFamily = regexp.MustCompile(`\b(keten|ketten|kaeten|kaetten|kettaen|kekkala|kekala|kettathu|sonnen|sonnaen)\b`)
)

// IsCorrection 保守判断一条消息是否在纠正上一次的回答。
func IsCorrection(normalized string) bool {
	text := Normalize(normalized)
	if text == "" {
		return false
	}
	toks := strings.Fields(text)
	if negationLead[strings.Trim(toks[0], ",")] && containsAny(text, englishCorrection...) {
		return true
	}
	if strings.HasPrefix(text, "i meant") || strings.HasPrefix(text, "i asked about") || strings.HasPrefix(text, "wrong answer") {
		return true
	}
	if ketenFamily.MatchString(text) {
		return true
	}
	// 单独的 "illa" 太常见（"onion illa"），需要出现在句首
	return illaFamily.MatchString(toks[0])
}

// LearnResult 学习结果；Learned=false 时 Reason 说明跳过原因。
type LearnResult struct {
	Learned bool
	Rule    *model.IntentOverrideRule
	Reason  string
}

// Learner 从用户纠错中学习覆盖规则。
type Learner struct {
	rules  RuleStore
	events EventLog
	log    *logger.Logger
}

func NewLearner(rules RuleStore, events EventLog, log *logger.Logger) *Learner {
	if log == nil {
		log = logger.Nop()
	}
	return &Learner{rules: rules, events: events, log: log}
}

// MaybeLearn 需在本条消息的路由事件写入之后调用：Recent 的第 0 条是本条，第 1 条才是被纠正的那次。
// 学到规则后调用方必须把会话状态重置为 idle，否则旧流程状态会盖住新规则。
func (l *Learner) MaybeLearn(ctx context.Context, tenantID, customerID, normalized string, lane Lane) (LearnResult, error) {
	if !IsCorrection(normalized) {
		return LearnResult{Reason: "not_correction"}, nil
	}
	if lane == LaneUnknown || lane == LaneHumanHelp {
		return l.skip(tenantID, "no_target_lane", lane)
	}
	if lane.NeedsParameter() && !hasParameterFor(lane, normalized) {
		return l.skip(tenantID, "missing_parameter", lane)
	}

	recent, err := l.events.Recent(ctx, tenantID, customerID, 2)
	if err != nil {
		return LearnResult{}, fmt.Errorf("load recent intent events: %w", err)
	}
	if len(recent) < 2 {
		return l.skip(tenantID, "no_previous_event", lane)
	}
	prev := recent[1]
	// 上一条没有可靠的路由依据，或是在流程中回答菜单，都不能当作咨询原文学习
	if Source(prev.Source) == SourceFallback {
		return l.skip(tenantID, "previous_fallback", lane)
	}
	if prev.State != "" && prev.State != convo.StateIdle.String() {
		return l.skip(tenantID, "previous_in_flow", lane)
	}
	pattern := Normalize(prev.NormalizedText)
	if pattern == "" || pattern == Normalize(normalized) {
		return l.skip(tenantID, "empty_previous_text", lane)
	}
	if isNumericReply(pattern) {
		return l.skip(tenantID, "numeric_previous_text", lane)
	}
	if Lane(prev.Lane) == lane {
		return l.skip(tenantID, "same_lane", lane)
	}

	exists, err := l.rules.HasRule(ctx, tenantID, pattern, string(lane))
	if err != nil {
		return LearnResult{}, fmt.Errorf("check override rule: %w", err)
	}
	if exists {
		return l.skip(tenantID, "duplicate", lane)
	}

	rule := &model.IntentOverrideRule{
		TenantID:   tenantID,
		Pattern:    pattern,
		MatchType:  model.MatchExact,
		Lane:       string(lane),
		Confidence: LearnedConfidence,
		Active:     true,
		Provenance: model.ProvenanceSystem,
	}
	if err := l.rules.CreateRule(ctx, rule); err != nil {
		return LearnResult{}, fmt.Errorf("create override rule: %w", err)
	}
	metrics.OverridesLearned.WithLabelValues(string(lane)).Inc()
	l.log.Info("override rule learned",
		"tenant_id", tenantID,
		"customer_id", customerID,
		"pattern", pattern,
		"from_lane", prev.Lane,
		"to_lane", lane,
	)
	return LearnResult{Learned: true, Rule: rule}, nil
}

func (l *Learner) skip(tenantID, reason string, lane Lane) (LearnResult, error) {
	l.log.Debug("correction not learned", "tenant_id", tenantID, "reason", reason, "lane", lane)
	return LearnResult{Reason: reason}, nil
}

func hasParameterFor(lane Lane, text string) bool {
	switch lane {
	case LaneDeliveryTimeSpecific:
		return HasTimeExpression(text)
	case LaneDeliveryArea:
		return HasAreaSignal(text)
	}
	return true
}
