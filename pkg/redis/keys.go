package redis

import "fmt"

// SessionKey 统一约定会话哈希键名（state / cart / 时间戳）。
func SessionKey(tenantID, customerID string) string {
	return fmt.Sprintf("chat_order:session:%s:%s", tenantID, customerID)
}

// AttemptKey 记录某客户在当前流程中连续无法识别的次数。
func AttemptKey(tenantID, customerID string) string {
	return fmt.Sprintf("chat_order:attempts:%s:%s", tenantID, customerID)
}

// CustomerLockKey 单客户消息处理锁，防止重复投递并发修改购物车。
func CustomerLockKey(tenantID, customerID string) string {
	return fmt.Sprintf("chat_order:lock:%s:%s", tenantID, customerID)
}

// RateLimitKey 按 tenant + customer 维度限流。
func RateLimitKey(tenantID, customerID string) string {
	return fmt.Sprintf("chat_order:rate_limit:%s:%s", tenantID, customerID)
}

// RateLimitIPKey 解析不到客户时按 IP 降级限流。
func RateLimitIPKey(ip string) string {
	return fmt.Sprintf("chat_order:rate_limit:ip:%s", ip)
}
