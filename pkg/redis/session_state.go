package redis

import (
	"context"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	fieldState          = "state"
	fieldCart           = "cart"
	fieldTouchedAt      = "touched_at"
	fieldManualOverride = "manual_override"
)

// SessionHash 对应 Redis 内的会话结构，cart 为 JSON 原文。
type SessionHash struct {
	State          string
	Cart           string
	TouchedAt      time.Time
	ManualOverride bool
}

// GetSession 查询会话哈希。found=false 表示 key 不存在。
func GetSession(ctx context.Context, rdb *rd.Client, tenantID, customerID string) (SessionHash, bool, error) {
	m, err := rdb.HGetAll(ctx, SessionKey(tenantID, customerID)).Result()
	if err != nil {
		return SessionHash{}, false, err
	}
	if len(m) == 0 {
		return SessionHash{}, false, nil
	}
	out := SessionHash{
		State:          m[fieldState],
		Cart:           m[fieldCart],
		ManualOverride: m[fieldManualOverride] == "1",
	}
	if ts, err := strconv.ParseInt(m[fieldTouchedAt], 10, 64); err == nil {
		out.TouchedAt = time.UnixMilli(ts)
	}
	return out, true, nil
}

// PutSessionFields 局部合并写入：只覆盖传入的字段，并刷新 touched_at 与 key TTL。
// retention 是物理保留时长，逻辑过期由调用方比较 touched_at 判断。
func PutSessionFields(ctx context.Context, rdb *rd.Client, tenantID, customerID string, fields map[string]string, retention time.Duration) error {
	key := SessionKey(tenantID, customerID)
	args := make([]any, 0, len(fields)*2+2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	args = append(args, fieldTouchedAt, strconv.FormatInt(time.Now().UnixMilli(), 10))

	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key, args...)
	if retention > 0 {
		pipe.Expire(ctx, key, retention)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// PutSessionState 写入会话状态。
func PutSessionState(ctx context.Context, rdb *rd.Client, tenantID, customerID, state string, retention time.Duration) error {
	return PutSessionFields(ctx, rdb, tenantID, customerID, map[string]string{fieldState: state}, retention)
}

// PutSessionCart 写入购物车 JSON。
func PutSessionCart(ctx context.Context, rdb *rd.Client, tenantID, customerID, cartJSON string, retention time.Duration) error {
	return PutSessionFields(ctx, rdb, tenantID, customerID, map[string]string{fieldCart: cartJSON}, retention)
}

// PutManualOverride 人工接管开关，不影响 state/cart。
func PutManualOverride(ctx context.Context, rdb *rd.Client, tenantID, customerID string, on bool, retention time.Duration) error {
	v := "0"
	if on {
		v = "1"
	}
	return PutSessionFields(ctx, rdb, tenantID, customerID, map[string]string{fieldManualOverride: v}, retention)
}

// SessionStateField / SessionCartField 暴露字段名给删除调用方。
const (
	SessionStateField = fieldState
	SessionCartField  = fieldCart
)
