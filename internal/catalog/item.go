package catalog

import (
	"context"
	"strings"
)

// Item 是一条上架商品（某个 canonical 下的一个规格）。
type Item struct {
	ID           uint   `json:"id"`
	Canonical    string `json:"canonical"`
	DisplayName  string `json:"display_name"`
	Brand        string `json:"brand,omitempty"`
	Variant      string `json:"variant,omitempty"`
	Category     string `json:"category,omitempty"`
	UnitPrice    int64  `json:"unit_price"` // 单位：分
	UpsellItemID uint   `json:"upsell_item_id,omitempty"`
}

// Loader 只读的商品目录来源。
type Loader interface {
	LoadActiveItems(ctx context.Context, tenantID string) ([]Item, error)
}

// Name 展示名，缺省时退回 canonical。
func (i Item) Name() string {
	if strings.TrimSpace(i.DisplayName) != "" {
		return i.DisplayName
	}
	return i.Canonical
}

// VariantLabel 规格名，没有规格时用展示名。
func (i Item) VariantLabel() string {
	if strings.TrimSpace(i.Variant) != "" {
		return i.Variant
	}
	return i.Name()
}

// Label 带规格的完整名称。
func (i Item) Label() string {
	name := i.Name()
	if i.Variant == "" || strings.Contains(strings.ToLower(name), strings.ToLower(i.Variant)) {
		return name
	}
	return name + " (" + i.Variant + ")"
}

// CanonicalKey 分组用的规范化 key。
func (i Item) CanonicalKey() string {
	return canonicalKey(i.Canonical)
}

func canonicalKey(s string) string {
	return strings.Join(Tokenize(s), " ")
}

// FindByID 在列表中按 ID 查找。
func FindByID(items []Item, id uint) (Item, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// Variants 返回某个 canonical 下的全部规格，保持目录顺序。
func Variants(items []Item, canonical string) []Item {
	key := canonicalKey(canonical)
	var out []Item
	for _, it := range items {
		if it.CanonicalKey() == key {
			out = append(out, it)
		}
	}
	return out
}

// Canonicals 去重后的 canonical 列表，每个取第一个规格作为代表。
func Canonicals(items []Item) []Item {
	seen := make(map[string]bool, len(items))
	var out []Item
	for _, it := range items {
		k := it.CanonicalKey()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}

// MinPrice canonical 的起售价。
func MinPrice(items []Item, canonical string) int64 {
	var lowest int64 = -1
	for _, v := range Variants(items, canonical) {
		if lowest < 0 || v.UnitPrice < lowest {
			lowest = v.UnitPrice
		}
	}
	if lowest < 0 {
		return 0
	}
	return lowest
}
