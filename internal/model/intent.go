package model

import "time"

const (
	MatchExact    = "exact"
	MatchContains = "contains"
	MatchRegex    = "regex"
)

const (
	ProvenanceSystem = "system" // 纠错学习自动生成
	ProvenanceTenant = "tenant" // 商户手工配置
)

// IntentOverrideRule 租户级意图覆盖规则，路由时优先级最高。
type IntentOverrideRule struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TenantID   string  `gorm:"size:64;not null;index:idx_rule_lookup,priority:1" json:"tenant_id"`
	Pattern    string  `gorm:"size:255;not null;index:idx_rule_lookup,priority:2" json:"pattern"`
	MatchType  string  `gorm:"size:16;not null;default:exact" json:"match_type"`
	Lane       string  `gorm:"size:32;not null;index:idx_rule_lookup,priority:3" json:"lane"`
	Confidence float64 `gorm:"not null;default:0.75" json:"confidence"`
	Active     bool    `gorm:"not null;default:true" json:"active"`
	Provenance string  `gorm:"size:16;not null;default:tenant" json:"provenance"`
}

func (IntentOverrideRule) TableName() string { return "intent_override_rules" }

// IntentEvent 路由决策日志，只追加。既用于审计，也是纠错学习查询上一条决策的来源。
type IntentEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	TenantID       string  `gorm:"size:64;not null;index:idx_event_customer,priority:1" json:"tenant_id"`
	CustomerID     string  `gorm:"size:64;not null;index:idx_event_customer,priority:2" json:"customer_id"`
	RawText        string  `gorm:"size:1024" json:"raw_text"`
	NormalizedText string  `gorm:"size:1024" json:"normalized_text"`
	Lane           string  `gorm:"size:32;not null" json:"lane"`
	Confidence     float64 `json:"confidence"`
	Source         string  `gorm:"size:16;not null" json:"source"`
	State          string  `gorm:"size:32" json:"state"`
}

func (IntentEvent) TableName() string { return "intent_events" }
