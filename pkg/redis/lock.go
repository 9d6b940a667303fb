package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseLockIfMatch 仅当锁值匹配 token 时才删除，避免误删后到请求的锁。
const luaReleaseLockIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// TryLockCustomer 尝试获取客户处理锁，成功返回 true。
func TryLockCustomer(ctx context.Context, rdb *rd.Client, tenantID, customerID, token string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, CustomerLockKey(tenantID, customerID), token, ttl).Result()
}

// ReleaseCustomerLockIfMatch 安全释放客户处理锁。
func ReleaseCustomerLockIfMatch(ctx context.Context, rdb *rd.Client, tenantID, customerID, token string) error {
	_, err := rdb.Eval(ctx, luaReleaseLockIfMatch, []string{CustomerLockKey(tenantID, customerID)}, token).Int()
	return err
}
