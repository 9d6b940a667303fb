package session

import (
	"context"
	"fmt"
	"time"

	"chat_order/internal/convo"
	"chat_order/internal/logger"
	rediskey "chat_order/pkg/redis"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// 物理保留时长是逻辑 TTL 的倍数，过期后仍能读到旧会话以便提示"会话已过期"。
const retentionFactor = 4

// RedisStore 会话哈希存储。
type RedisStore struct {
	rdb *rd.Client
	ttl time.Duration
	log *logger.Logger
	now func() time.Time
}

func NewRedisStore(rdb *rd.Client, ttl time.Duration, log *logger.Logger) *RedisStore {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisStore{rdb: rdb, ttl: ttl, log: log, now: time.Now}
}

func (s *RedisStore) retention() time.Duration { return s.ttl * retentionFactor }

func (s *RedisStore) Load(ctx context.Context, tenantID, customerID string) (Snapshot, error) {
	h, found, err := rediskey.GetSession(ctx, s.rdb, tenantID, customerID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return Snapshot{State: convo.StateIdle}, nil
	}
	cart, err := convo.DecodeCart(h.Cart)
	if err != nil {
		// 损坏的购物车按空处理，不让一条脏数据卡死会话
		s.log.Warn("session cart corrupt, dropping", "tenant_id", tenantID, "customer_id", customerID, "error", err)
	}
	snap := Snapshot{
		State:          convo.ParseState(h.State),
		Cart:           cart,
		ManualOverride: h.ManualOverride,
		TouchedAt:      h.TouchedAt,
	}
	snap.Expired = Expired(snap.State, snap.Cart, snap.TouchedAt, s.ttl, s.now())
	return snap, nil
}

func (s *RedisStore) SetState(ctx context.Context, tenantID, customerID string, state convo.State) error {
	return rediskey.PutSessionState(ctx, s.rdb, tenantID, customerID, state.String(), s.retention())
}

func (s *RedisStore) SaveCart(ctx context.Context, tenantID, customerID string, cart convo.WorkingCart) error {
	raw, err := cart.Encode()
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	return rediskey.PutSessionCart(ctx, s.rdb, tenantID, customerID, raw, s.retention())
}

func (s *RedisStore) Save(ctx context.Context, tenantID, customerID string, state convo.State, cart convo.WorkingCart) error {
	raw, err := cart.Encode()
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	return rediskey.PutSessionFields(ctx, s.rdb, tenantID, customerID, map[string]string{
		rediskey.SessionStateField: state.String(),
		rediskey.SessionCartField:  raw,
	}, s.retention())
}

func (s *RedisStore) Clear(ctx context.Context, tenantID, customerID string) error {
	return rediskey.PutSessionFields(ctx, s.rdb, tenantID, customerID, map[string]string{
		rediskey.SessionStateField: convo.StateIdle.String(),
		rediskey.SessionCartField:  "",
	}, s.retention())
}

func (s *RedisStore) SetManualOverride(ctx context.Context, tenantID, customerID string, on bool) error {
	return rediskey.PutManualOverride(ctx, s.rdb, tenantID, customerID, on, s.retention())
}

// RedisCounter 重试计数，TTL 与会话一致，过期自动归零。
type RedisCounter struct {
	rdb *rd.Client
	ttl time.Duration
}

func NewRedisCounter(rdb *rd.Client, ttl time.Duration) *RedisCounter {
	return &RedisCounter{rdb: rdb, ttl: ttl}
}

func (c *RedisCounter) Get(ctx context.Context, tenantID, customerID string) (int, error) {
	return rediskey.GetAttempts(ctx, c.rdb, tenantID, customerID)
}

func (c *RedisCounter) Inc(ctx context.Context, tenantID, customerID string) (int, error) {
	return rediskey.IncrAttempts(ctx, c.rdb, tenantID, customerID, c.ttl)
}

func (c *RedisCounter) Reset(ctx context.Context, tenantID, customerID string) error {
	return rediskey.ResetAttempts(ctx, c.rdb, tenantID, customerID)
}

// RedisLocker SET NX + token，Lua 校验后释放。
type RedisLocker struct {
	rdb  *rd.Client
	ttl  time.Duration
	wait time.Duration
	poll time.Duration
	log  *logger.Logger
}

func NewRedisLocker(rdb *rd.Client, ttl, wait time.Duration, log *logger.Logger) *RedisLocker {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, wait: wait, poll: 50 * time.Millisecond, log: log}
}

func (l *RedisLocker) Acquire(ctx context.Context, tenantID, customerID string) (func(), bool, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := rediskey.TryLockCustomer(ctx, l.rdb, tenantID, customerID, token, l.ttl)
		if err != nil {
			return func() {}, false, fmt.Errorf("lock customer: %w", err)
		}
		if ok {
			release := func() {
				// 用独立 ctx 释放，请求 ctx 取消后仍要删锁
				relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := rediskey.ReleaseCustomerLockIfMatch(relCtx, l.rdb, tenantID, customerID, token); err != nil {
					l.log.Warn("release customer lock failed", "tenant_id", tenantID, "customer_id", customerID, "error", err)
				}
			}
			return release, true, nil
		}
		if time.Now().After(deadline) {
			return func() {}, false, nil
		}
		select {
		case <-ctx.Done():
			return func() {}, false, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}
