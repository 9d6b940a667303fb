package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"chat_order/internal/catalog"
	"chat_order/internal/convo"
	"chat_order/internal/flow"
	"chat_order/internal/intent"
	"chat_order/internal/model"
	"chat_order/internal/session"
	"chat_order/internal/store"
)

type staticCatalog []catalog.Item

func (s staticCatalog) LoadActiveItems(ctx context.Context, tenantID string) ([]catalog.Item, error) {
	return s, nil
}

type fixture struct {
	t        *testing.T
	d        *Dispatcher
	sessions *session.Memory
	orders   *store.Orders
	rules    *store.Rules
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := store.Open("sqlite", fmt.Sprintf("file:dispatch_%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	tenant := &model.Tenant{
		ID:           "t1",
		Name:         "Corner Store",
		Vertical:     model.VerticalGrocery,
		OpeningHours: "9am to 10pm",
		ContactPhone: "+91 98400 00000",
	}
	if err := db.Create(tenant).Error; err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	items := staticCatalog{
		{ID: 1, Canonical: "Coke", DisplayName: "Coke", Variant: "300ml", UnitPrice: 4000},
		{ID: 2, Canonical: "Chicken Biryani", DisplayName: "Chicken Biryani", UnitPrice: 25000},
	}
	mem := session.NewMemory(15 * time.Minute)
	orders := store.NewOrders(db)
	rules := store.NewRules(db)
	events := store.NewEvents(db)

	d := New(Deps{
		Sessions: mem,
		Counter:  mem,
		Locker:   mem,
		Tenants:  store.NewTenants(db),
		Catalog:  items,
		Router:   intent.NewRouter(rules, events, nil, nil),
		Learner:  intent.NewLearner(rules, events, nil),
		Machine:  flow.New(flow.Deps{Catalog: items, Orders: orders, Counter: mem}),
	})
	return &fixture{t: t, d: d, sessions: mem, orders: orders, rules: rules}
}

func (f *fixture) send(text string) IngestResult {
	f.t.Helper()
	return f.sendFrom("c1", text)
}

func (f *fixture) sendFrom(customerID, text string) IngestResult {
	f.t.Helper()
	res, err := f.d.Handle(context.Background(), Message{TenantID: "t1", CustomerID: customerID, Text: text})
	if err != nil {
		f.t.Fatalf("handle %q: %v", text, err)
	}
	return res
}

func (f *fixture) snapshot() session.Snapshot {
	f.t.Helper()
	snap, err := f.sessions.Load(context.Background(), "t1", "c1")
	if err != nil {
		f.t.Fatal(err)
	}
	return snap
}

func (f *fixture) placeOrder() string {
	f.t.Helper()
	f.send("2 coke")
	f.send("yes")
	res := f.send("1")
	if res.Kind != string(flow.KindOrder) || res.State != convo.StateAwaitingAddress {
		f.t.Fatalf("place order = %+v", res)
	}
	return res.OrderNo
}

func TestHandleRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.d.Handle(ctx, Message{TenantID: " ", CustomerID: "c1", Text: "hi"}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("err = %v", err)
	}
	if _, err := f.d.Handle(ctx, Message{TenantID: "nope", CustomerID: "c1", Text: "hi"}); !errors.Is(err, ErrUnknownTenant) {
		t.Fatalf("err = %v", err)
	}
}

func TestOrderingPersistsSession(t *testing.T) {
	f := newFixture(t)
	res := f.send("2 coke")
	if res.State != convo.StateOrderingQty || !res.Used {
		t.Fatalf("res = %+v", res)
	}
	if snap := f.snapshot(); snap.State != convo.StateOrderingQty || snap.Cart.Item == nil {
		t.Fatalf("snap = %+v", snap)
	}
	no := f.placeOrder()
	if no == "" {
		t.Fatal("missing order number")
	}
	if snap := f.snapshot(); snap.State != convo.StateAwaitingAddress || len(snap.Cart.Cart) != 0 {
		t.Fatalf("snap = %+v", snap)
	}
}

func TestEscapeFromEveryStateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := convo.WorkingCart{Cart: []convo.LineItem{{ProductID: 1, Name: "Coke", Qty: 1, UnitPrice: 4000}}}
	for _, st := range convo.AllStates {
		if err := f.sessions.Save(ctx, "t1", "c1", st, cart); err != nil {
			t.Fatal(err)
		}
		_, _ = f.sessions.Inc(ctx, "t1", "c1")
		for i := 0; i < 2; i++ {
			res := f.send("cancel")
			if res.Kind != KindReset || res.State != convo.StateIdle || !res.Used {
				t.Fatalf("%s attempt %d: %+v", st, i+1, res)
			}
			snap := f.snapshot()
			if snap.State != convo.StateIdle || !snap.Cart.IsEmpty() {
				t.Fatalf("%s: session not cleared: %+v", st, snap)
			}
			if n, _ := f.sessions.Get(ctx, "t1", "c1"); n != 0 {
				t.Fatalf("%s: attempts = %d", st, n)
			}
		}
	}
}

func TestEscapeCancelsOpenOrder(t *testing.T) {
	f := newFixture(t)
	no := f.placeOrder()
	res := f.send("start over")
	if !strings.Contains(res.Reply, "cancelled") {
		t.Fatalf("reply = %q", res.Reply)
	}
	o, err := f.orders.FindByOrderNo(context.Background(), no)
	if err != nil || o.Status != model.OrderCancelled {
		t.Fatalf("order = %+v err=%v", o, err)
	}
}

func TestManualOverrideSilencesBot(t *testing.T) {
	f := newFixture(t)
	if err := f.sessions.SetManualOverride(context.Background(), "t1", "c1", true); err != nil {
		t.Fatal(err)
	}
	if res := f.send("2 coke"); res.Used || res.Kind != KindManualOverride {
		t.Fatalf("res = %+v", res)
	}
	if err := f.sessions.SetManualOverride(context.Background(), "t1", "c1", false); err != nil {
		t.Fatal(err)
	}
	if res := f.send("2 coke"); !res.Used {
		t.Fatalf("res = %+v", res)
	}
}

func TestAgentHandoffUntilReset(t *testing.T) {
	f := newFixture(t)
	res := f.send("can I talk to a human")
	if res.Kind != KindAgent || res.State != convo.StateAgent || !res.Used {
		t.Fatalf("res = %+v", res)
	}
	if res := f.send("2 coke"); res.Used {
		t.Fatalf("agent state must not auto-reply: %+v", res)
	}
	if res := f.send("restart"); !res.Used || res.State != convo.StateIdle {
		t.Fatalf("res = %+v", res)
	}
}

func TestExpiredSessionIsReset(t *testing.T) {
	f := newFixture(t)
	f.send("2 coke")
	f.sessions.Now = func() time.Time { return time.Now().Add(time.Hour) }
	res := f.send("3")
	if res.Kind != KindExpired || res.State != convo.StateIdle {
		t.Fatalf("res = %+v", res)
	}
	f.sessions.Now = time.Now
	if snap := f.snapshot(); snap.State != convo.StateIdle || !snap.Cart.IsEmpty() {
		t.Fatalf("snap = %+v", snap)
	}
}

func TestEmptyGreetingAndHelp(t *testing.T) {
	f := newFixture(t)
	if res := f.send("   "); res.Kind != KindEmpty || res.Reply == "" {
		t.Fatalf("res = %+v", res)
	}
	if res := f.send("hi"); res.Kind != KindGreeting {
		t.Fatalf("res = %+v", res)
	}
	if res := f.send("help"); res.Kind != KindHelp {
		t.Fatalf("res = %+v", res)
	}
}

func TestInformationalDoesNotTouchFlow(t *testing.T) {
	f := newFixture(t)
	res := f.send("what are your timings")
	if res.Kind != KindInfo || !strings.Contains(res.Reply, "9am to 10pm") || res.State != convo.StateIdle {
		t.Fatalf("res = %+v", res)
	}

	f.send("2 coke")
	res = f.send("what is your phone number")
	if res.Kind != KindInfo || res.State != convo.StateOrderingQty || !strings.Contains(res.Reply, "+91 98400 00000") {
		t.Fatalf("res = %+v", res)
	}
	if snap := f.snapshot(); snap.State != convo.StateOrderingQty || snap.Cart.Item == nil {
		t.Fatalf("flow state disturbed: %+v", snap)
	}
}

func TestMenuResetsStateKeepsCart(t *testing.T) {
	f := newFixture(t)
	f.send("2 coke")
	f.send("yes")
	if snap := f.snapshot(); snap.State != convo.StateConfirmingOrder {
		t.Fatalf("snap = %+v", snap)
	}
	res := f.send("menu")
	if res.Kind != KindInfo || res.State != convo.StateIdle || !strings.Contains(res.Reply, "Chicken Biryani") {
		t.Fatalf("res = %+v", res)
	}
	if snap := f.snapshot(); snap.State != convo.StateIdle || len(snap.Cart.Cart) != 1 {
		t.Fatalf("snap = %+v", snap)
	}
}

func TestCheckoutStateIsNotInterrupted(t *testing.T) {
	f := newFixture(t)
	f.placeOrder()
	res := f.send("menu")
	if res.State != convo.StateAwaitingAddress || res.Kind == KindInfo {
		t.Fatalf("res = %+v", res)
	}
}

func TestCorrectionLearnsOverride(t *testing.T) {
	f := newFixture(t)
	f.send("what are your timings")
	res := f.send("no i asked about phone number")
	if !strings.Contains(res.Reply, "noted that") || res.State != convo.StateIdle {
		t.Fatalf("res = %+v", res)
	}
	rules, err := f.rules.ListRules(context.Background(), "t1")
	if err != nil || len(rules) != 1 || rules[0].Lane != string(intent.LaneContact) {
		t.Fatalf("rules = %+v err=%v", rules, err)
	}

	res = f.send("what are your timings")
	if !strings.Contains(res.Reply, "+91 98400 00000") {
		t.Fatalf("learned override not applied: %+v", res)
	}
}

func TestCorrectionAfterQuantityReplyIsNotLearned(t *testing.T) {
	f := newFixture(t)
	f.send("chicken biryani")
	f.send("2")
	res := f.send("no i asked about phone number")
	if strings.Contains(res.Reply, "noted that") {
		t.Fatalf("learned from a quantity reply: %+v", res)
	}
	rules, err := f.rules.ListRules(context.Background(), "t1")
	if err != nil || len(rules) != 0 {
		t.Fatalf("rules = %+v err=%v", rules, err)
	}

	// 其他客户的数量回复照常进入状态机
	if res := f.sendFrom("c2", "chicken biryani"); res.State != convo.StateOrderingQty {
		t.Fatalf("res = %+v", res)
	}
	res = f.sendFrom("c2", "2")
	if res.Kind == KindInfo || res.State == convo.StateOrderingQty {
		t.Fatalf("quantity not accepted: %+v", res)
	}
}

func TestAddressMentioningAgentStaysInCheckout(t *testing.T) {
	f := newFixture(t)
	f.placeOrder()
	res := f.send("Flat 4, Manager Quarters, near LIC agent office")
	if res.Kind == KindAgent || res.State != convo.StateAwaitingLocationPin {
		t.Fatalf("res = %+v", res)
	}
	if res := f.send("agent"); res.Kind != KindAgent || res.State != convo.StateAgent {
		t.Fatalf("explicit agent request ignored: %+v", res)
	}
}

func TestInformationalReplyKeepsSessionAlive(t *testing.T) {
	f := newFixture(t)
	start := time.Now()
	f.send("2 coke")

	f.sessions.Now = func() time.Time { return start.Add(10 * time.Minute) }
	if res := f.send("what are your timings"); res.Kind != KindInfo {
		t.Fatalf("res = %+v", res)
	}
	f.sessions.Now = func() time.Time { return start.Add(20 * time.Minute) }
	res := f.send("what is your phone number")
	if res.Kind == KindExpired || res.State != convo.StateOrderingQty {
		t.Fatalf("active session expired: %+v", res)
	}
}
