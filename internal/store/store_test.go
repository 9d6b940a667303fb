package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"chat_order/internal/convo"
	"chat_order/internal/model"
)

func newTestDB(t *testing.T) *Orders {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewOrders(db)
}

func seedOrder(t *testing.T, orders *Orders, orderNo string) *model.Order {
	t.Helper()
	lines, err := LinesJSON([]convo.LineItem{{ProductID: 1, Name: "Pizza", Qty: 2, UnitPrice: 19900}})
	if err != nil {
		t.Fatal(err)
	}
	o := &model.Order{
		OrderNo:       orderNo,
		TenantID:      "t1",
		CustomerID:    "c1",
		Lines:         lines,
		Subtotal:      39800,
		Total:         39800,
		Status:        model.OrderAwaitingCustomerAction,
		PaymentStatus: model.PaymentUnpaid,
	}
	if err := orders.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("create: %v", err)
	}
	return o
}

func TestOrdersLifecycle(t *testing.T) {
	orders := newTestDB(t)
	ctx := context.Background()
	o := seedOrder(t, orders, "OD1")

	if err := orders.UpdateOrder(ctx, o.ID, map[string]any{"address": "12 Anna Salai", "delivery_fee": int64(45)}); err != nil {
		t.Fatal(err)
	}
	if err := orders.UpdateOrder(ctx, o.ID, map[string]any{"subtotal": 1}); err == nil {
		t.Fatal("snapshot field must be immutable")
	}

	got, err := orders.FindLatestOpenOrder(ctx, "t1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Address != "12 Anna Salai" || got.DeliveryFee != 45 {
		t.Fatalf("got %+v", got)
	}
	lines, err := DecodeLines(got)
	if err != nil || len(lines) != 1 || lines[0].Qty != 2 {
		t.Fatalf("lines = %+v err=%v", lines, err)
	}

	if _, err := orders.FindLatestOpenOrder(ctx, "t1", "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestMarkPaidIsIdempotent(t *testing.T) {
	orders := newTestDB(t)
	ctx := context.Background()
	seedOrder(t, orders, "OD2")

	applied, err := orders.MarkPaid(ctx, "OD2", "pay_1", time.Now())
	if err != nil || !applied {
		t.Fatalf("first mark: applied=%v err=%v", applied, err)
	}
	applied, err = orders.MarkPaid(ctx, "OD2", "pay_1", time.Now())
	if err != nil || applied {
		t.Fatalf("retry must be a no-op: applied=%v err=%v", applied, err)
	}
	o, _ := orders.FindByOrderNo(ctx, "OD2")
	if o.PaymentStatus != model.PaymentPaid || o.Status != model.OrderConfirmed || o.PaidAt == nil {
		t.Fatalf("order = %+v", o)
	}
	if ok, _ := orders.CancelOrder(ctx, o.ID); ok {
		t.Fatal("paid order must not be cancellable")
	}
}

func TestCancelOrder(t *testing.T) {
	orders := newTestDB(t)
	ctx := context.Background()
	o := seedOrder(t, orders, "OD3")
	ok, err := orders.CancelOrder(ctx, o.ID)
	if err != nil || !ok {
		t.Fatalf("cancel: %v %v", ok, err)
	}
	if applied, _ := orders.MarkPaid(ctx, "OD3", "late", time.Now()); applied {
		t.Fatal("cancelled order must not flip to paid")
	}
}

func TestCatalogAndTenants(t *testing.T) {
	orders := newTestDB(t)
	db := orders.db
	ctx := context.Background()
	upsell := uint(2)
	db.Create(&model.CatalogItem{TenantID: "t1", Canonical: "Pizza", Variant: "Large", UnitPrice: 39900, UpsellItemID: &upsell, SortOrder: 2})
	db.Create(&model.CatalogItem{TenantID: "t1", Canonical: "Coke", UnitPrice: 4000, SortOrder: 1})
	db.Create(&model.CatalogItem{TenantID: "t1", Canonical: "Old", UnitPrice: 1})
	db.Model(&model.CatalogItem{}).Where("canonical = ?", "Old").Update("active", false)
	db.Create(&model.CatalogItem{TenantID: "t2", Canonical: "Other", UnitPrice: 1})

	items, err := NewCatalog(db).LoadActiveItems(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Canonical != "Coke" || items[1].UpsellItemID != 2 {
		t.Fatalf("items = %+v", items)
	}

	lat, lng := 13.0, 80.2
	db.Create(&model.Tenant{ID: "t1", Name: "Biryani House", Vertical: model.VerticalRestaurant, StoreLat: &lat, StoreLng: &lng, FeeType: "per_km", PerKmFee: 10})
	tenant, err := NewTenants(db).GetTenant(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !tenant.RequiresFulfillmentChoice() || tenant.StoreCoord() == nil || tenant.Pricing() == nil {
		t.Fatalf("tenant = %+v", tenant)
	}
	if _, err := NewTenants(db).GetTenant(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestRulesAndEvents(t *testing.T) {
	db := newTestDB(t).db
	ctx := context.Background()
	rules := NewRules(db)
	if err := rules.CreateRule(ctx, &model.IntentOverrideRule{TenantID: "t1", Pattern: "timing", MatchType: model.MatchExact, Lane: "opening_hours", Active: true}); err != nil {
		t.Fatal(err)
	}
	ok, err := rules.HasRule(ctx, "t1", "timing", "opening_hours")
	if err != nil || !ok {
		t.Fatalf("has rule: %v %v", ok, err)
	}
	if ok, _ := rules.HasRule(ctx, "t1", "timing", "menu"); ok {
		t.Fatal("lane must be part of the key")
	}
	active, _ := rules.ActiveRules(ctx, "t1")
	if len(active) != 1 {
		t.Fatalf("active = %d", len(active))
	}

	events := NewEvents(db)
	for _, text := range []string{"first", "second", "third"} {
		_ = events.Append(ctx, &model.IntentEvent{TenantID: "t1", CustomerID: "c1", NormalizedText: text, Lane: "menu", Source: "rules"})
	}
	recent, err := events.Recent(ctx, "t1", "c1", 2)
	if err != nil || len(recent) != 2 || recent[0].NormalizedText != "third" || recent[1].NormalizedText != "second" {
		t.Fatalf("recent = %+v err=%v", recent, err)
	}
}

func TestPaymentEventsDedup(t *testing.T) {
	db := newTestDB(t).db
	ctx := context.Background()
	pe := NewPaymentEvents(db)
	_, dup, err := pe.Record(ctx, &model.PaymentEvent{ProviderRef: "pay_1", OrderNo: "OD1"})
	if err != nil || dup {
		t.Fatalf("first: dup=%v err=%v", dup, err)
	}
	// 还没处理完的记录，重投时带回 received
	status, dup, err := pe.Record(ctx, &model.PaymentEvent{ProviderRef: "pay_1", OrderNo: "OD1"})
	if err != nil || !dup || status != model.PaymentEventReceived {
		t.Fatalf("second: status=%v dup=%v err=%v", status, dup, err)
	}
	if err := pe.SetStatus(ctx, "pay_1", model.PaymentEventApplied, ""); err != nil {
		t.Fatal(err)
	}
	status, dup, err = pe.Record(ctx, &model.PaymentEvent{ProviderRef: "pay_1", OrderNo: "OD1"})
	if err != nil || !dup || status != model.PaymentEventApplied {
		t.Fatalf("third: status=%v dup=%v err=%v", status, dup, err)
	}
}

func TestSessionsStoreAndCounter(t *testing.T) {
	db := newTestDB(t).db
	ctx := context.Background()
	s := NewSessions(db, 15*time.Minute)

	snap, err := s.Load(ctx, "t1", "c1")
	if err != nil || snap.State != convo.StateIdle {
		t.Fatalf("empty load: %+v %v", snap, err)
	}

	cart := convo.WorkingCart{Cart: []convo.LineItem{{Name: "Coke", Qty: 1, UnitPrice: 4000}}}
	if err := s.Save(ctx, "t1", "c1", convo.StateConfirmingOrder, cart); err != nil {
		t.Fatal(err)
	}
	if err := s.SetManualOverride(ctx, "t1", "c1", true); err != nil {
		t.Fatal(err)
	}
	snap, _ = s.Load(ctx, "t1", "c1")
	if snap.State != convo.StateConfirmingOrder || snap.Cart.Subtotal() != 4000 || !snap.ManualOverride {
		t.Fatalf("snap = %+v", snap)
	}

	for i := 1; i <= 2; i++ {
		n, err := s.Inc(ctx, "t1", "c1")
		if err != nil || n != i {
			t.Fatalf("inc = %d err=%v", n, err)
		}
	}
	_ = s.Reset(ctx, "t1", "c1")
	if n, _ := s.Get(ctx, "t1", "c1"); n != 0 {
		t.Fatalf("attempts = %d", n)
	}

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	if snap, _ := s.Load(ctx, "t1", "c1"); !snap.Expired {
		t.Fatal("expected expiry")
	}
	_ = s.Clear(ctx, "t1", "c1")
	snap, _ = s.Load(ctx, "t1", "c1")
	if snap.State != convo.StateIdle || !snap.Cart.IsEmpty() {
		t.Fatalf("after clear = %+v", snap)
	}
}
