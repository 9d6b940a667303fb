package model

import (
	"time"

	"gorm.io/datatypes"
)

// Session 是会话状态的关系库版本（DB_DRIVER 存储模式，或 Redis 不可用的部署）。
// 每个 (tenant, customer) 一行，upsert 写入。
type Session struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TenantID       string         `gorm:"size:64;not null;uniqueIndex:idx_session_customer,priority:1" json:"tenant_id"`
	CustomerID     string         `gorm:"size:64;not null;uniqueIndex:idx_session_customer,priority:2" json:"customer_id"`
	State          string         `gorm:"size:32;not null;default:idle" json:"state"`
	Cart           datatypes.JSON `json:"cart"`
	ManualOverride bool           `gorm:"not null;default:false" json:"manual_override"`
	Attempts       int            `gorm:"not null;default:0" json:"attempts"`
	TouchedAt      time.Time      `gorm:"not null" json:"touched_at"`
}

func (Session) TableName() string { return "sessions" }
