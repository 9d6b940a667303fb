// Package session 定义会话状态、重试计数与单客户锁的窄接口，以及 Redis / 内存实现。
package session

import (
	"context"
	"time"

	"chat_order/internal/convo"
)

// Snapshot 一次读取得到的会话。
type Snapshot struct {
	State          convo.State
	Cart           convo.WorkingCart
	ManualOverride bool
	// Expired 表示超过空闲 TTL 且存在未完成的流程，调用方应硬重置。
	Expired   bool
	TouchedAt time.Time
}

// Store 会话存储。写入为 upsert，局部字段合并。
type Store interface {
	Load(ctx context.Context, tenantID, customerID string) (Snapshot, error)
	SetState(ctx context.Context, tenantID, customerID string, state convo.State) error
	SaveCart(ctx context.Context, tenantID, customerID string, cart convo.WorkingCart) error
	Save(ctx context.Context, tenantID, customerID string, state convo.State, cart convo.WorkingCart) error
	// Clear 清空状态与购物车，保留人工接管标记。
	Clear(ctx context.Context, tenantID, customerID string) error
	SetManualOverride(ctx context.Context, tenantID, customerID string, on bool) error
}

// Counter 连续无法识别输入的计数，只用于升级提示语，不做硬拦截。
type Counter interface {
	Get(ctx context.Context, tenantID, customerID string) (int, error)
	Inc(ctx context.Context, tenantID, customerID string) (int, error)
	Reset(ctx context.Context, tenantID, customerID string) error
}

// Locker 单客户处理锁。acquired=false 表示等待超时，调用方按最后写入者胜出继续。
type Locker interface {
	Acquire(ctx context.Context, tenantID, customerID string) (release func(), acquired bool, err error)
}

// Expired 惰性过期判断：只有处于流程中或购物车非空时才算"过期"。
func Expired(state convo.State, cart convo.WorkingCart, touchedAt time.Time, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 || touchedAt.IsZero() {
		return false
	}
	if now.Sub(touchedAt) <= ttl {
		return false
	}
	return state != convo.StateIdle || !cart.IsEmpty()
}
