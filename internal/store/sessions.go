package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat_order/internal/convo"
	"chat_order/internal/model"
	"chat_order/internal/session"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sessions 关系库会话存储，实现 session.Store 与 session.Counter（SESSION_BACKEND=db）。
type Sessions struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

func NewSessions(db *gorm.DB, ttl time.Duration) *Sessions {
	return &Sessions{db: db, ttl: ttl, now: time.Now}
}

func (s *Sessions) find(ctx context.Context, tenantID, customerID string) (*model.Session, error) {
	var row model.Session
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Sessions) Load(ctx context.Context, tenantID, customerID string) (session.Snapshot, error) {
	row, err := s.find(ctx, tenantID, customerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return session.Snapshot{State: convo.StateIdle}, nil
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("load session: %w", err)
	}
	cart, _ := convo.DecodeCart(string(row.Cart))
	snap := session.Snapshot{
		State:          convo.ParseState(row.State),
		Cart:           cart,
		ManualOverride: row.ManualOverride,
		TouchedAt:      row.TouchedAt,
	}
	snap.Expired = session.Expired(snap.State, snap.Cart, snap.TouchedAt, s.ttl, s.now())
	return snap, nil
}

// upsert 按 (tenant, customer) 合并写入指定列。
func (s *Sessions) upsert(ctx context.Context, row *model.Session, columns ...string) error {
	row.TouchedAt = s.now()
	columns = append(columns, "touched_at", "updated_at")
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "customer_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(row).Error
}

func (s *Sessions) SetState(ctx context.Context, tenantID, customerID string, state convo.State) error {
	return s.upsert(ctx, &model.Session{TenantID: tenantID, CustomerID: customerID, State: state.String()}, "state")
}

func (s *Sessions) SaveCart(ctx context.Context, tenantID, customerID string, cart convo.WorkingCart) error {
	raw, err := cart.Encode()
	if err != nil {
		return err
	}
	return s.upsert(ctx, &model.Session{
		TenantID: tenantID, CustomerID: customerID, State: convo.StateIdle.String(), Cart: datatypes.JSON(raw),
	}, "cart")
}

func (s *Sessions) Save(ctx context.Context, tenantID, customerID string, state convo.State, cart convo.WorkingCart) error {
	raw, err := cart.Encode()
	if err != nil {
		return err
	}
	return s.upsert(ctx, &model.Session{
		TenantID: tenantID, CustomerID: customerID, State: state.String(), Cart: datatypes.JSON(raw),
	}, "state", "cart")
}

func (s *Sessions) Clear(ctx context.Context, tenantID, customerID string) error {
	return s.Save(ctx, tenantID, customerID, convo.StateIdle, convo.WorkingCart{})
}

func (s *Sessions) SetManualOverride(ctx context.Context, tenantID, customerID string, on bool) error {
	return s.upsert(ctx, &model.Session{
		TenantID: tenantID, CustomerID: customerID, State: convo.StateIdle.String(), ManualOverride: on,
	}, "manual_override")
}

func (s *Sessions) Get(ctx context.Context, tenantID, customerID string) (int, error) {
	row, err := s.find(ctx, tenantID, customerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Attempts, nil
}

func (s *Sessions) Inc(ctx context.Context, tenantID, customerID string) (int, error) {
	var n int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := &model.Session{TenantID: tenantID, CustomerID: customerID, State: convo.StateIdle.String(), TouchedAt: s.now()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Session{}).
			Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
			Update("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
			return err
		}
		var counts []int
		if err := tx.Model(&model.Session{}).
			Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
			Pluck("attempts", &counts).Error; err != nil {
			return err
		}
		if len(counts) > 0 {
			n = counts[0]
		}
		return nil
	})
	return n, err
}

func (s *Sessions) Reset(ctx context.Context, tenantID, customerID string) error {
	return s.db.WithContext(ctx).Model(&model.Session{}).
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Update("attempts", 0).Error
}
