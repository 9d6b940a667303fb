package intent

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"chat_order/internal/convo"
	"chat_order/internal/logger"
	"chat_order/internal/metrics"
	"chat_order/internal/model"
)

const (
	OverrideConfidence = 0.98
	AIAcceptThreshold  = 0.65
	FallbackConfidence = 0.40
)

// Decision 路由结果。
type Decision struct {
	Lane       Lane
	Confidence float64
	Source     Source
	RuleID     uint
}

// RuleStore 租户覆盖规则。
type RuleStore interface {
	ActiveRules(ctx context.Context, tenantID string) ([]model.IntentOverrideRule, error)
	HasRule(ctx context.Context, tenantID, pattern string, lane string) (bool, error)
	CreateRule(ctx context.Context, rule *model.IntentOverrideRule) error
}

// EventLog 决策日志，Recent 按时间倒序返回。
type EventLog interface {
	Append(ctx context.Context, ev *model.IntentEvent) error
	Recent(ctx context.Context, tenantID, customerID string, limit int) ([]model.IntentEvent, error)
}

// Classifier LLM 分类器：输入文本与封闭标签集，输出标签与置信度。
type Classifier interface {
	Classify(ctx context.Context, text string, labels []string) (label string, confidence float64, err error)
}

// Router 三层路由。Classifier 可以为 nil（未配置 LLM）。
type Router struct {
	rules      RuleStore
	events     EventLog
	classifier Classifier
	log        *logger.Logger
}

func NewRouter(rules RuleStore, events EventLog, classifier Classifier, log *logger.Logger) *Router {
	if log == nil {
		log = logger.Nop()
	}
	return &Router{rules: rules, events: events, classifier: classifier, log: log}
}

// Request 一次路由请求。
type Request struct {
	TenantID   string
	CustomerID string
	Raw        string
	Normalized string
	State      convo.State
}

// Route 先命中先得；无论结果如何都会追加一条 IntentEvent。
func (r *Router) Route(ctx context.Context, req Request) Decision {
	if req.Normalized == "" {
		req.Normalized = Normalize(req.Raw)
	}
	d := r.resolve(ctx, req)

	metrics.RouterDecisions.WithLabelValues(string(d.Lane), string(d.Source)).Inc()
	ev := &model.IntentEvent{
		TenantID:       req.TenantID,
		CustomerID:     req.CustomerID,
		RawText:        req.Raw,
		NormalizedText: req.Normalized,
		Lane:           string(d.Lane),
		Confidence:     d.Confidence,
		Source:         string(d.Source),
		State:          req.State.String(),
	}
	if r.events != nil {
		if err := r.events.Append(ctx, ev); err != nil {
			r.log.Warn("intent event append failed", "tenant_id", req.TenantID, "error", err)
		}
	}
	r.log.Debug("intent routed",
		"tenant_id", req.TenantID,
		"customer_id", req.CustomerID,
		"lane", d.Lane,
		"source", d.Source,
		"confidence", d.Confidence,
		"state", req.State,
	)
	return d
}

func (r *Router) resolve(ctx context.Context, req Request) Decision {
	// 1. 覆盖规则
	if r.rules != nil {
		rules, err := r.rules.ActiveRules(ctx, req.TenantID)
		if err != nil {
			r.log.Warn("load override rules failed, skipping tier", "tenant_id", req.TenantID, "error", err)
		}
		for _, rule := range rules {
			if r.ruleMatches(rule, req.Normalized) {
				return Decision{Lane: ParseLane(rule.Lane), Confidence: OverrideConfidence, Source: SourceOverride, RuleID: rule.ID}
			}
		}
	}

	// 2. 静态规则
	if rule, ok := matchStatic(req.Raw, req.Normalized); ok && rule.confidence >= RuleAcceptThreshold {
		return Decision{Lane: rule.lane, Confidence: rule.confidence, Source: SourceRules}
	}

	// 3. LLM
	if r.classifier != nil && shouldAskModel(req) {
		labels := make([]string, len(AllLanes))
		for i, l := range AllLanes {
			labels[i] = string(l)
		}
		start := time.Now()
		label, conf, err := r.classifier.Classify(ctx, req.Raw, labels)
		metrics.LLMLatency.Observe(time.Since(start).Seconds())
		switch {
		case err != nil:
			r.log.Warn("llm classify failed, skipping tier", "tenant_id", req.TenantID, "error", err)
		default:
			lane := ParseLane(label)
			if lane != LaneUnknown && conf >= AIAcceptThreshold {
				return Decision{Lane: lane, Confidence: conf, Source: SourceAI}
			}
		}
	}

	// 4. 兜底
	return Decision{Lane: LaneHumanHelp, Confidence: FallbackConfidence, Source: SourceFallback}
}

func (r *Router) ruleMatches(rule model.IntentOverrideRule, text string) bool {
	switch strings.ToLower(rule.MatchType) {
	case model.MatchContains:
		p := Normalize(rule.Pattern)
		return p != "" && strings.Contains(text, p)
	case model.MatchRegex:
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			r.log.Warn("invalid override regex", "rule_id", rule.ID, "error", err)
			return false
		}
		return re.MatchString(text)
	default:
		return Normalize(rule.Pattern) == text
	}
}

// shouldAskModel 只有空闲状态下的自由文本才值得调用 LLM；
// 流程中的数字/短回复（"2"、"ok"）是在回答菜单，不是咨询。
func shouldAskModel(req Request) bool {
	if req.State != convo.StateIdle {
		return false
	}
	text := strings.TrimSpace(req.Normalized)
	if len([]rune(text)) < 4 {
		return false
	}
	return !isNumericReply(text)
}

// isNumericReply 纯数字（含空格）的回复是在选菜单序号或数量。
func isNumericReply(text string) bool {
	text = strings.TrimSpace(text)
	return text != "" && strings.IndexFunc(text, func(r rune) bool { return !unicode.IsDigit(r) && !unicode.IsSpace(r) }) < 0
}
