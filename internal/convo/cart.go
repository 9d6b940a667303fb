package convo

import (
	"encoding/json"

	"chat_order/internal/catalog"
)

// LineItem 是工作购物车中的一行，下单时作为快照写入订单。
type LineItem struct {
	ProductID uint   `json:"product_id"`
	Name      string `json:"name"`
	Variant   string `json:"variant,omitempty"`
	Qty       int    `json:"qty"`
	UnitPrice int64  `json:"unit_price"` // 单位：分
}

// Amount 行小计。
func (l LineItem) Amount() int64 { return l.UnitPrice * int64(l.Qty) }

// Label 展示名，带规格。
func (l LineItem) Label() string {
	if l.Variant == "" {
		return l.Name
	}
	return l.Name + " (" + l.Variant + ")"
}

// QueueEntry 多商品消息拆出来的一项。Qty=0 表示用户没写数量。
type QueueEntry struct {
	Name string `json:"name"`
	Qty  int    `json:"qty,omitempty"`
	Raw  string `json:"raw"`
}

// Candidate 等待数字回复的候选项（商品或规格）。
type Candidate struct {
	ItemID    uint   `json:"item_id,omitempty"`
	Canonical string `json:"canonical"`
	Label     string `json:"label"`
	UnitPrice int64  `json:"unit_price,omitempty"`
}

// Selection 当前正在处理的选择上下文。
type Selection struct {
	Canonical string        `json:"canonical,omitempty"`
	Product   *catalog.Item `json:"product,omitempty"`
	QtyHint   int           `json:"qty_hint,omitempty"`
	Upsell    *catalog.Item `json:"upsell,omitempty"`
	EditIndex *int          `json:"edit_index,omitempty"`
}

// WorkingCart 是未提交的临时选择，独立于订单表。
// 不变式：QueueIndex 非空时必须是 Queue 的合法下标，否则两者一起清空。
type WorkingCart struct {
	Item           *Selection   `json:"item,omitempty"`
	List           []Candidate  `json:"list,omitempty"`
	Cart           []LineItem   `json:"cart,omitempty"`
	Queue          []QueueEntry `json:"multi_item_queue,omitempty"`
	QueueIndex     *int         `json:"current_item_index,omitempty"`
	UpsellsOffered []uint       `json:"upsells_offered,omitempty"`

	// TooFarCount 超出配送范围后重新填写地址的次数。
	TooFarCount int `json:"too_far_count,omitempty"`
}

// DecodeCart 解析存储的 JSON；空串返回空购物车，损坏数据同样按空处理并返回错误供记录。
func DecodeCart(raw string) (WorkingCart, error) {
	var wc WorkingCart
	if raw == "" {
		return wc, nil
	}
	if err := json.Unmarshal([]byte(raw), &wc); err != nil {
		return WorkingCart{}, err
	}
	wc.Normalize()
	return wc, nil
}

// Encode 序列化为 JSON。
func (w WorkingCart) Encode() (string, error) {
	b, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Normalize 修复过期/损坏的队列游标，返回是否发生了修复。
func (w *WorkingCart) Normalize() bool {
	if w.QueueIndex == nil {
		if len(w.Queue) > 0 {
			w.Queue = nil
			return true
		}
		return false
	}
	if *w.QueueIndex < 0 || *w.QueueIndex >= len(w.Queue) {
		w.ClearQueue()
		return true
	}
	return false
}

// IsEmpty 没有任何需要保留的内容。
func (w WorkingCart) IsEmpty() bool {
	return w.Item == nil && len(w.List) == 0 && len(w.Cart) == 0 && len(w.Queue) == 0 && len(w.UpsellsOffered) == 0 && w.TooFarCount == 0
}

// SetQueue 设置多商品队列并把游标指向第一项。
func (w *WorkingCart) SetQueue(entries []QueueEntry) {
	if len(entries) == 0 {
		w.ClearQueue()
		return
	}
	w.Queue = entries
	idx := 0
	w.QueueIndex = &idx
}

// ClearQueue 队列和游标必须同时清空。
func (w *WorkingCart) ClearQueue() {
	w.Queue = nil
	w.QueueIndex = nil
}

// CurrentQueued 返回游标指向的队列项。
func (w WorkingCart) CurrentQueued() (QueueEntry, bool) {
	if w.QueueIndex == nil || *w.QueueIndex < 0 || *w.QueueIndex >= len(w.Queue) {
		return QueueEntry{}, false
	}
	return w.Queue[*w.QueueIndex], true
}

// AdvanceQueue 前进到下一项；队列耗尽时清空并返回 false。
func (w *WorkingCart) AdvanceQueue() (QueueEntry, bool) {
	if w.QueueIndex == nil {
		return QueueEntry{}, false
	}
	next := *w.QueueIndex + 1
	if next >= len(w.Queue) {
		w.ClearQueue()
		return QueueEntry{}, false
	}
	w.QueueIndex = &next
	return w.Queue[next], true
}

// QueueActive 是否还有排队项在处理。
func (w WorkingCart) QueueActive() bool {
	_, ok := w.CurrentQueued()
	return ok
}

// AddLine 追加一行；同一商品多次出现保留为多行，方便逐项修改。
func (w *WorkingCart) AddLine(l LineItem) {
	w.Cart = append(w.Cart, l)
}

// RemoveLine 按下标删除行。
func (w *WorkingCart) RemoveLine(i int) bool {
	if i < 0 || i >= len(w.Cart) {
		return false
	}
	w.Cart = append(w.Cart[:i], w.Cart[i+1:]...)
	return true
}

// Subtotal 商品合计（分）。
func (w WorkingCart) Subtotal() int64 {
	var total int64
	for _, l := range w.Cart {
		total += l.Amount()
	}
	return total
}

// UpsellOffered 同一商品只推荐一次加购。
func (w WorkingCart) UpsellOffered(productID uint) bool {
	for _, id := range w.UpsellsOffered {
		if id == productID {
			return true
		}
	}
	return false
}

// Clone 深拷贝，状态处理函数在副本上修改。
func (w WorkingCart) Clone() WorkingCart {
	out := WorkingCart{
		List:           append([]Candidate(nil), w.List...),
		Cart:           append([]LineItem(nil), w.Cart...),
		Queue:          append([]QueueEntry(nil), w.Queue...),
		UpsellsOffered: append([]uint(nil), w.UpsellsOffered...),
		TooFarCount:    w.TooFarCount,
	}
	if w.QueueIndex != nil {
		idx := *w.QueueIndex
		out.QueueIndex = &idx
	}
	if w.Item != nil {
		sel := *w.Item
		if w.Item.EditIndex != nil {
			idx := *w.Item.EditIndex
			sel.EditIndex = &idx
		}
		out.Item = &sel
	}
	return out
}

// ResetSelection 清掉选择上下文，保留购物车与队列。
func (w *WorkingCart) ResetSelection() {
	w.Item = nil
	w.List = nil
}
