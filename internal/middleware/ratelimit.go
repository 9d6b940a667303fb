package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"chat_order/internal/logger"
	rediskey "chat_order/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

// luaRateLimit：Redis 滑动窗口限流 Lua 脚本（原子操作）
// KEYS[1]=限流key，ARGV[1]=当前时间戳，ARGV[2]=窗口开始时间戳，ARGV[3]=窗口秒数，ARGV[4]=member，ARGV[5]=上限
// 返回：当前窗口内的请求数（超限返回 -1）
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

-- 删除窗口外的旧记录
redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)

if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
else
  return -1
end
`

// RedisRateLimit 按 (tenant, customer) 做滑动窗口限流，解析不到客户时按 IP 降级。
func RedisRateLimit(rdb *rd.Client, limit int, window time.Duration, log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *gin.Context) {
		tenantID, customerID := extractCustomer(c)

		var key string
		if tenantID != "" && customerID != "" {
			key = rediskey.RateLimitKey(tenantID, customerID)
		} else {
			key = rediskey.RateLimitIPKey(c.ClientIP())
		}

		now := time.Now().Unix()
		windowSec := int64(window.Seconds())
		if windowSec <= 0 {
			windowSec = 1
		}
		windowStart := now - windowSec
		member := fmt.Sprintf("%d-%d", now, time.Now().UnixNano())

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			now, windowStart, windowSec, member, limit).Int()
		if err != nil {
			// Redis 出错时放行（降级策略）
			log.Warn("rate limit check failed, allowing", "key", key, "error", err)
			c.Next()
			return
		}

		if res < 0 {
			log.Info("rate limited", "tenant_id", tenantID, "customer_id", customerID)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "too many messages, please slow down",
			})
			return
		}
		c.Next()
	}
}

// extractCustomer 从请求 body 中解析 tenant_id / customer_id（不消耗 body，可重复读）
func extractCustomer(c *gin.Context) (string, string) {
	if c.Request.Body == nil {
		return "", ""
	}
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", ""
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	var req struct {
		TenantID   string `json:"tenant_id"`
		CustomerID string `json:"customer_id"`
	}
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		return "", ""
	}
	return req.TenantID, req.CustomerID
}
