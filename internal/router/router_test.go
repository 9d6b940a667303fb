package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"chat_order/internal/config"
	"chat_order/internal/convo"
	"chat_order/internal/dispatch"
	"chat_order/internal/model"
	"chat_order/internal/store"

	"github.com/gin-gonic/gin"
)

type fakeMessages struct {
	got dispatch.Message
	res dispatch.IngestResult
	err error
}

func (f *fakeMessages) Handle(ctx context.Context, msg dispatch.Message) (dispatch.IngestResult, error) {
	f.got = msg
	return f.res, f.err
}

type fakeSessions struct {
	on map[string]bool
}

func (f *fakeSessions) SetManualOverride(ctx context.Context, tenantID, customerID string, on bool) error {
	f.on[tenantID+"/"+customerID] = on
	return nil
}

type fakeRules struct {
	mu    sync.Mutex
	rules []model.IntentOverrideRule
}

func (f *fakeRules) ListRules(ctx context.Context, tenantID string) ([]model.IntentOverrideRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.IntentOverrideRule
	for _, r := range f.rules {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRules) CreateRule(ctx context.Context, rule *model.IntentOverrideRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule.ID = uint(len(f.rules) + 1)
	f.rules = append(f.rules, *rule)
	return nil
}

type fakeOrders map[string]*model.Order

func (f fakeOrders) FindByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	if o, ok := f[orderNo]; ok {
		return o, nil
	}
	return nil, store.ErrNotFound
}

type fakeCatalog struct{ invalidated []string }

func (f *fakeCatalog) Invalidate(tenantID string) { f.invalidated = append(f.invalidated, tenantID) }

type testServer struct {
	engine   *gin.Engine
	messages *fakeMessages
	sessions *fakeSessions
	rules    *fakeRules
	catalog  *fakeCatalog
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	lines, err := store.LinesJSON([]convo.LineItem{{ProductID: 1, Name: "Coke", Qty: 2, UnitPrice: 4000}})
	if err != nil {
		t.Fatal(err)
	}
	s := &testServer{
		engine:   gin.New(),
		messages: &fakeMessages{res: dispatch.IngestResult{Used: true, Kind: "flow", Reply: "ok", State: convo.StateOrderingQty}},
		sessions: &fakeSessions{on: map[string]bool{}},
		rules:    &fakeRules{},
		catalog:  &fakeCatalog{},
	}
	Setup(s.engine, Deps{
		Messages: s.messages,
		Sessions: s.sessions,
		Rules:    s.rules,
		Orders:   fakeOrders{"CO1": {OrderNo: "CO1", TenantID: "t1", Lines: lines, Total: 8000}},
		Catalog:  s.catalog,
	}, config.AppConfig{AdminToken: "secret"})
	return s
}

func (s *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

var admin = map[string]string{"X-Admin-Token": "secret"}

func TestPostMessage(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/api/messages", map[string]string{"tenant_id": "t1", "customer_id": "c1", "text": "2 coke"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}
	var resp struct {
		Code int                   `json:"code"`
		Data dispatch.IngestResult `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != 0 || resp.Data.Reply != "ok" || resp.Data.State != convo.StateOrderingQty {
		t.Fatalf("resp = %+v", resp)
	}
	if s.messages.got.Text != "2 coke" || s.messages.got.CustomerID != "c1" {
		t.Fatalf("dispatched %+v", s.messages.got)
	}
}

func TestPostMessageErrors(t *testing.T) {
	s := newTestServer(t)
	s.messages.err = dispatch.ErrUnknownTenant
	if w := s.do(http.MethodPost, "/api/messages", map[string]string{"tenant_id": "x", "customer_id": "c1"}, nil); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	s.messages.err = dispatch.ErrInvalidMessage
	if w := s.do(http.MethodPost, "/api/messages", map[string]string{"text": "hi"}, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetOrder(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(http.MethodGet, "/api/orders/CO1", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/api/orders/NOPE", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/api/sessions/t1/c1/override", map[string]bool{"on": true}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	w = s.do(http.MethodPost, "/api/sessions/t1/c1/override", map[string]bool{"on": true}, admin)
	if w.Code != http.StatusOK || !s.sessions.on["t1/c1"] {
		t.Fatalf("status = %d overrides=%v", w.Code, s.sessions.on)
	}
	if w := s.do(http.MethodPost, "/api/sessions/t1/c1/override", map[string]string{}, admin); w.Code != http.StatusBadRequest {
		t.Fatalf("missing flag accepted: %d", w.Code)
	}
}

func TestCreateAndListRules(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/api/tenants/t1/overrides", map[string]any{"pattern": "  Parcel Ready?? ", "lane": "delivery_now"}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}
	if r := s.rules.rules[0]; r.Pattern != "parcel ready" || r.MatchType != model.MatchExact || r.Provenance != model.ProvenanceTenant {
		t.Fatalf("rule = %+v", r)
	}

	bad := []map[string]any{
		{"pattern": "x", "lane": "weather"},
		{"pattern": "([", "lane": "menu", "match_type": "regex"},
		{"pattern": "x", "lane": "menu", "match_type": "fuzzy"},
		{"pattern": "!!", "lane": "menu"},
	}
	for _, b := range bad {
		if w := s.do(http.MethodPost, "/api/tenants/t1/overrides", b, admin); w.Code != http.StatusBadRequest {
			t.Fatalf("%v accepted: %d", b, w.Code)
		}
	}

	w = s.do(http.MethodGet, "/api/tenants/t1/overrides", nil, admin)
	var resp struct {
		Data []model.IntentOverrideRule `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || len(resp.Data) != 1 {
		t.Fatalf("list = %s err=%v", w.Body, err)
	}
}

func TestInvalidateCatalog(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(http.MethodPost, "/api/tenants/t1/catalog/invalidate", nil, admin); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(s.catalog.invalidated) != 1 || s.catalog.invalidated[0] != "t1" {
		t.Fatalf("invalidated = %v", s.catalog.invalidated)
	}
}
