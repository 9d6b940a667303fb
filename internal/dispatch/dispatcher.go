// Package dispatch 消息入口：读会话、逃生通道、咨询类短路、委托状态机、写回会话。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chat_order/internal/catalog"
	"chat_order/internal/convo"
	"chat_order/internal/flow"
	"chat_order/internal/intent"
	"chat_order/internal/logger"
	"chat_order/internal/meta"
	"chat_order/internal/metrics"
	"chat_order/internal/model"
	"chat_order/internal/quote"
	"chat_order/internal/session"
	"chat_order/internal/store"
)

var (
	ErrInvalidMessage = errors.New("dispatch: tenant_id and customer_id are required")
	ErrUnknownTenant  = errors.New("dispatch: unknown tenant")
)

// 结果类型
const (
	KindExpired        = "session_expired"
	KindManualOverride = "manual_override"
	KindReset          = "reset"
	KindAgent          = "agent"
	KindGreeting       = "greeting"
	KindHelp           = "help"
	KindInfo           = "informational"
	KindError          = "error"
	KindEmpty          = "empty"
)

// TenantSource 租户配置读取。
type TenantSource interface {
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
}

// Message 一条入站消息。
type Message struct {
	TenantID   string       `json:"tenant_id"`
	CustomerID string       `json:"customer_id"`
	Text       string       `json:"text"`
	Location   *quote.Coord `json:"location,omitempty"`
}

// IngestResult Used=false 表示不应自动回复（人工接管或已转人工）。
type IngestResult struct {
	Used     bool        `json:"used"`
	Kind     string      `json:"kind"`
	Reply    string      `json:"reply,omitempty"`
	ImageURL string      `json:"image_url,omitempty"`
	OrderID  uint        `json:"order_id,omitempty"`
	OrderNo  string      `json:"order_no,omitempty"`
	State    convo.State `json:"state"`
}

// Deps Locker 可以为 nil（不加锁，最后写入者胜出）。
type Deps struct {
	Sessions session.Store
	Counter  session.Counter
	Locker   session.Locker
	Tenants  TenantSource
	Catalog  catalog.Loader
	Router   *intent.Router
	Learner  *intent.Learner
	Machine  *flow.Machine
	Log      *logger.Logger
}

type Dispatcher struct {
	Deps
	log *logger.Logger
}

func New(deps Deps) *Dispatcher {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{Deps: deps, log: log}
}

// Handle 处理一条消息。只有输入非法或会话存储不可用时返回 error，
// 其余故障都转换成带重新开始提示的回复。
func (d *Dispatcher) Handle(ctx context.Context, msg Message) (IngestResult, error) {
	msg.TenantID = strings.TrimSpace(msg.TenantID)
	msg.CustomerID = strings.TrimSpace(msg.CustomerID)
	if msg.TenantID == "" || msg.CustomerID == "" {
		return IngestResult{}, ErrInvalidMessage
	}
	log := d.log.With("tenant_id", msg.TenantID, "customer_id", msg.CustomerID)

	if d.Locker != nil {
		release, acquired, err := d.Locker.Acquire(ctx, msg.TenantID, msg.CustomerID)
		switch {
		case err != nil:
			log.Warn("customer lock unavailable, continuing unlocked", "error", err)
		case !acquired:
			metrics.LockContention.Inc()
			log.Warn("customer lock wait timed out, continuing last-writer-wins")
		}
		if release != nil {
			defer release()
		}
	}

	res, err := d.handle(ctx, msg, log)
	if err != nil {
		return IngestResult{}, err
	}
	metrics.MessagesHandled.WithLabelValues(res.Kind).Inc()
	return res, nil
}

func (d *Dispatcher) handle(ctx context.Context, msg Message, log *logger.Logger) (IngestResult, error) {
	tenant, err := d.Tenants.GetTenant(ctx, msg.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		return IngestResult{}, ErrUnknownTenant
	}
	if err != nil {
		return IngestResult{}, fmt.Errorf("load tenant: %w", err)
	}

	snap, err := d.Sessions.Load(ctx, msg.TenantID, msg.CustomerID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("load session: %w", err)
	}

	// 1. 过期：硬重置，不再处理本条消息
	if snap.Expired {
		log.Info("session expired, resetting", "state", snap.State)
		d.reset(ctx, msg, log)
		return IngestResult{Used: true, Kind: KindExpired, State: convo.StateIdle,
			Reply: "Your previous session expired, so I've cleared it. What would you like to order?"}, nil
	}

	// 2. 人工接管
	if snap.ManualOverride {
		return IngestResult{Used: false, Kind: KindManualOverride, State: snap.State}, nil
	}

	raw := strings.TrimSpace(msg.Text)
	text := intent.Normalize(raw)
	if raw == "" && msg.Location == nil {
		return IngestResult{Used: true, Kind: KindEmpty, State: snap.State, Reply: helpReply}, nil
	}

	// 3. 逃生通道，任何状态都先于其它逻辑
	mk := meta.Detect(raw)
	if mk.IsEscape() {
		return d.escape(ctx, msg, snap, log), nil
	}

	// 转人工后不再自动回复，直到用户发重置词
	if snap.State == convo.StateAgent {
		return IngestResult{Used: false, Kind: KindAgent, State: convo.StateAgent}, nil
	}
	if mk == meta.Agent && (!snap.State.IsCheckout() || meta.IsExactAgent(raw)) {
		if err := d.Sessions.SetState(ctx, msg.TenantID, msg.CustomerID, convo.StateAgent); err != nil {
			return IngestResult{}, fmt.Errorf("set agent state: %w", err)
		}
		d.transition(snap.State, convo.StateAgent)
		log.Info("customer asked for an agent", "state", snap.State)
		return IngestResult{Used: true, Kind: KindAgent, State: convo.StateAgent,
			Reply: "Okay, someone from the store will reply to you here shortly. Type *restart* anytime to order with me again."}, nil
	}

	in := flow.Input{
		TenantID:   msg.TenantID,
		CustomerID: msg.CustomerID,
		Tenant:     tenant,
		State:      snap.State,
		Raw:        raw,
		Text:       text,
		Cart:       snap.Cart,
		Location:   msg.Location,
	}

	// 4. 结算类状态直接交给对应处理函数，不被咨询类意图打断
	if snap.State.IsCheckout() {
		return d.step(ctx, in, log), nil
	}

	switch mk {
	case meta.Greeting:
		d.touch(ctx, in, log)
		return IngestResult{Used: true, Kind: KindGreeting, State: snap.State, Reply: greetingReply}, nil
	case meta.Help:
		d.touch(ctx, in, log)
		return IngestResult{Used: true, Kind: KindHelp, State: snap.State, Reply: helpReply}, nil
	case meta.Menu:
		return d.info(ctx, in, intent.LaneMenu, "", log), nil
	}

	// 5. 咨询类路由。位置消息没有文字，直接进入状态机。
	if raw == "" {
		return d.step(ctx, in, log), nil
	}
	dec := d.Router.Route(ctx, intent.Request{
		TenantID:   msg.TenantID,
		CustomerID: msg.CustomerID,
		Raw:        raw,
		Normalized: text,
		State:      snap.State,
	})

	// 6. 纠错学习只看有依据的决策
	var learned string
	if d.Learner != nil && dec.Source != intent.SourceFallback {
		lr, err := d.Learner.MaybeLearn(ctx, msg.TenantID, msg.CustomerID, text, dec.Lane)
		if err != nil {
			log.Warn("correction learner failed", "error", err)
		} else if lr.Learned {
			learned = "Thanks, I've noted that for next time."
			if err := d.Sessions.SetState(ctx, msg.TenantID, msg.CustomerID, convo.StateIdle); err != nil {
				log.Warn("reset state after learning failed", "error", err)
			}
			d.transition(in.State, convo.StateIdle)
			in.State = convo.StateIdle
		}
	}

	if dec.Lane.IsInformational() && dec.Source != intent.SourceFallback {
		return d.info(ctx, in, dec.Lane, learned, log), nil
	}
	return d.step(ctx, in, log), nil
}

// escape 清空状态、购物车与计数，并取消可取消的订单。
func (d *Dispatcher) escape(ctx context.Context, msg Message, snap session.Snapshot, log *logger.Logger) IngestResult {
	reply := "Okay, I've cleared everything. What would you like to order?"
	if d.Machine != nil {
		cancelled, err := d.Machine.CancelOpenOrder(ctx, msg.TenantID, msg.CustomerID)
		if err != nil {
			log.Warn("cancel open order on reset failed", "error", err)
		}
		if cancelled {
			reply = "Okay, your order has been cancelled. What would you like to order?"
		}
	}
	d.reset(ctx, msg, log)
	d.transition(snap.State, convo.StateIdle)
	log.Info("escape hatch", "from_state", snap.State)
	return IngestResult{Used: true, Kind: KindReset, State: convo.StateIdle, Reply: reply}
}

func (d *Dispatcher) reset(ctx context.Context, msg Message, log *logger.Logger) {
	if err := d.Sessions.Clear(ctx, msg.TenantID, msg.CustomerID); err != nil {
		log.Error("clear session failed", "error", err)
	}
	if d.Counter != nil {
		if err := d.Counter.Reset(ctx, msg.TenantID, msg.CustomerID); err != nil {
			log.Warn("reset attempts failed", "error", err)
		}
	}
}

// info 咨询类回复。菜单会把状态清回 idle，保留购物车里的商品。
func (d *Dispatcher) info(ctx context.Context, in flow.Input, lane intent.Lane, prefix string, log *logger.Logger) IngestResult {
	var items []catalog.Item
	if lane == intent.LaneMenu || lane == intent.LanePricing {
		var err error
		items, err = d.Catalog.LoadActiveItems(ctx, in.TenantID)
		if err != nil {
			log.Warn("load catalog for info reply failed", "lane", lane, "error", err)
		}
	}
	state := in.State
	if lane == intent.LaneMenu && state != convo.StateIdle {
		cart := in.Cart.Clone()
		cart.ResetSelection()
		cart.ClearQueue()
		if err := d.Sessions.Save(ctx, in.TenantID, in.CustomerID, convo.StateIdle, cart); err != nil {
			log.Warn("reset state after menu failed", "error", err)
		} else {
			d.transition(state, convo.StateIdle)
			state = convo.StateIdle
		}
	}
	if state != convo.StateIdle {
		d.touch(ctx, in, log)
	}
	reply := infoReply(in.Tenant, lane, items)
	if state != convo.StateIdle {
		reply = joinLines(reply, "Reply to continue with your order.")
	}
	return IngestResult{Used: true, Kind: KindInfo, State: state, Reply: joinLines(prefix, reply)}
}

// touch 流程中穿插的咨询也算活跃，刷新 touched_at，避免正在对话的客户被判过期。
func (d *Dispatcher) touch(ctx context.Context, in flow.Input, log *logger.Logger) {
	if in.State == convo.StateIdle {
		return
	}
	if err := d.Sessions.SetState(ctx, in.TenantID, in.CustomerID, in.State); err != nil {
		log.Warn("refresh session failed", "state", in.State, "error", err)
	}
}

// step 委托状态机并写回会话。状态机故障时重置会话，给出重新开始的提示。
func (d *Dispatcher) step(ctx context.Context, in flow.Input, log *logger.Logger) IngestResult {
	t, err := d.Machine.Step(ctx, in)
	if err != nil {
		log.Error("flow step failed, resetting session", "state", in.State, "error", err)
		d.reset(ctx, Message{TenantID: in.TenantID, CustomerID: in.CustomerID}, log)
		d.transition(in.State, convo.StateIdle)
		return IngestResult{Used: true, Kind: KindError, State: convo.StateIdle,
			Reply: "Sorry, something went wrong on our side. Please send your order again or type *menu* to start over."}
	}

	if t.State == convo.StateIdle && t.Cart.IsEmpty() {
		err = d.Sessions.Clear(ctx, in.TenantID, in.CustomerID)
	} else {
		err = d.Sessions.Save(ctx, in.TenantID, in.CustomerID, t.State, t.Cart)
	}
	if err != nil {
		log.Error("persist session failed", "state", t.State, "error", err)
	}
	d.transition(in.State, t.State)

	used := t.Kind != flow.KindAgent
	return IngestResult{
		Used:     used,
		Kind:     string(t.Kind),
		Reply:    t.Reply,
		ImageURL: t.ImageURL,
		OrderID:  t.OrderID,
		OrderNo:  t.OrderNo,
		State:    t.State,
	}
}

func (d *Dispatcher) transition(from, to convo.State) {
	if from == to {
		return
	}
	metrics.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}
