package session

import (
	"context"
	"sync"
	"time"

	"chat_order/internal/convo"
)

type memEntry struct {
	state     convo.State
	cart      convo.WorkingCart
	override  bool
	attempts  int
	touchedAt time.Time
}

// Memory 进程内实现，单实例部署与测试使用。同时实现 Store、Counter 与 Locker。
type Memory struct {
	ttl time.Duration
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]*memEntry
	locks   map[string]chan struct{}
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		Now:     time.Now,
		entries: make(map[string]*memEntry),
		locks:   make(map[string]chan struct{}),
	}
}

func memKey(tenantID, customerID string) string { return tenantID + "\x00" + customerID }

func (m *Memory) entry(tenantID, customerID string) *memEntry {
	k := memKey(tenantID, customerID)
	e, ok := m.entries[k]
	if !ok {
		e = &memEntry{state: convo.StateIdle}
		m.entries[k] = e
	}
	return e
}

func (m *Memory) Load(ctx context.Context, tenantID, customerID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[memKey(tenantID, customerID)]
	if !ok {
		return Snapshot{State: convo.StateIdle}, nil
	}
	snap := Snapshot{
		State:          e.state,
		Cart:           e.cart.Clone(),
		ManualOverride: e.override,
		TouchedAt:      e.touchedAt,
	}
	snap.Expired = Expired(snap.State, snap.Cart, snap.TouchedAt, m.ttl, m.Now())
	return snap, nil
}

func (m *Memory) SetState(ctx context.Context, tenantID, customerID string, state convo.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(tenantID, customerID)
	e.state = state
	e.touchedAt = m.Now()
	return nil
}

func (m *Memory) SaveCart(ctx context.Context, tenantID, customerID string, cart convo.WorkingCart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(tenantID, customerID)
	e.cart = cart.Clone()
	e.touchedAt = m.Now()
	return nil
}

func (m *Memory) Save(ctx context.Context, tenantID, customerID string, state convo.State, cart convo.WorkingCart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(tenantID, customerID)
	e.state = state
	e.cart = cart.Clone()
	e.touchedAt = m.Now()
	return nil
}

func (m *Memory) Clear(ctx context.Context, tenantID, customerID string) error {
	return m.Save(ctx, tenantID, customerID, convo.StateIdle, convo.WorkingCart{})
}

func (m *Memory) SetManualOverride(ctx context.Context, tenantID, customerID string, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(tenantID, customerID)
	e.override = on
	return nil
}

func (m *Memory) Get(ctx context.Context, tenantID, customerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[memKey(tenantID, customerID)]; ok {
		return e.attempts, nil
	}
	return 0, nil
}

func (m *Memory) Inc(ctx context.Context, tenantID, customerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(tenantID, customerID)
	e.attempts++
	return e.attempts, nil
}

func (m *Memory) Reset(ctx context.Context, tenantID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[memKey(tenantID, customerID)]; ok {
		e.attempts = 0
	}
	return nil
}

func (m *Memory) Acquire(ctx context.Context, tenantID, customerID string) (func(), bool, error) {
	k := memKey(tenantID, customerID)
	for {
		m.mu.Lock()
		ch, held := m.locks[k]
		if !held {
			ch = make(chan struct{})
			m.locks[k] = ch
			m.mu.Unlock()
			return func() {
				m.mu.Lock()
				delete(m.locks, k)
				m.mu.Unlock()
				close(ch)
			}, true, nil
		}
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return func() {}, false, ctx.Err()
		case <-ch:
		}
	}
}
