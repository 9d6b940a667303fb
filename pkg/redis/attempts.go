package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaIncrWithTTL 原子 INCR，首次创建时设置过期，避免计数器永久残留。
const luaIncrWithTTL = `
local key = KEYS[1]
local ttlSec = tonumber(ARGV[1])
local n = redis.call('INCR', key)
if n == 1 then
  redis.call('EXPIRE', key, ttlSec)
end
return n
`

// IncrAttempts 递增重试计数并返回递增后的值。
func IncrAttempts(ctx context.Context, rdb *rd.Client, tenantID, customerID string, ttl time.Duration) (int, error) {
	sec := int64(ttl / time.Second)
	if sec <= 0 {
		sec = 1
	}
	return rdb.Eval(ctx, luaIncrWithTTL, []string{AttemptKey(tenantID, customerID)}, sec).Int()
}

// GetAttempts 读取当前计数，不存在视为 0。
func GetAttempts(ctx context.Context, rdb *rd.Client, tenantID, customerID string) (int, error) {
	n, err := rdb.Get(ctx, AttemptKey(tenantID, customerID)).Int()
	if err == rd.Nil {
		return 0, nil
	}
	return n, err
}

// ResetAttempts 识别成功或显式重置时清零。
func ResetAttempts(ctx context.Context, rdb *rd.Client, tenantID, customerID string) error {
	return rdb.Del(ctx, AttemptKey(tenantID, customerID)).Err()
}
