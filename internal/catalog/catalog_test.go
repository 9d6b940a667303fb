package catalog

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func testItems() []Item {
	return []Item{
		{ID: 1, Canonical: "Chicken Biryani", DisplayName: "Chicken Biryani", UnitPrice: 25000},
		{ID: 2, Canonical: "Mutton Biryani", DisplayName: "Mutton Biryani", Variant: "Regular", UnitPrice: 32000},
		{ID: 3, Canonical: "Mutton Biryani", DisplayName: "Mutton Biryani", Variant: "Family Pack", UnitPrice: 90000},
		{ID: 4, Canonical: "Coke", DisplayName: "Coca Cola", Variant: "300ml", UnitPrice: 4000},
		{ID: 5, Canonical: "Pizza", DisplayName: "Pizza", Variant: "Small", UnitPrice: 19900},
		{ID: 6, Canonical: "Pizza", DisplayName: "Pizza", Variant: "Medium", UnitPrice: 29900},
		{ID: 7, Canonical: "Pizza", DisplayName: "Pizza", Variant: "Large", UnitPrice: 39900},
	}
}

func TestSearchSingleCanonical(t *testing.T) {
	res := Search(testItems(), "2 chicken biryani please")
	if res.Kind != Matched || res.Canonical != "Chicken Biryani" || len(res.Variants) != 1 {
		t.Fatalf("res = %+v", res)
	}
}

func TestSearchToleratesTypos(t *testing.T) {
	res := Search(testItems(), "chicken biriyani")
	if res.Kind != Matched || res.Canonical != "Chicken Biryani" {
		t.Fatalf("res = %+v", res)
	}
	if res := Search(testItems(), "coca cola"); res.Kind != Matched || res.Canonical != "Coke" {
		t.Fatalf("display name lookup failed: %+v", res)
	}
}

func TestSearchAmbiguous(t *testing.T) {
	res := Search(testItems(), "biryani")
	if res.Kind != Ambiguous || len(res.Canonicals) != 2 {
		t.Fatalf("res = %+v", res)
	}
}

func TestSearchNarrowsVariants(t *testing.T) {
	res := Search(testItems(), "large pizza")
	if res.Kind != Matched || len(res.Variants) != 1 || res.Variants[0].ID != 7 {
		t.Fatalf("res = %+v", res)
	}
	all := Search(testItems(), "pizza")
	if len(all.Variants) != 3 {
		t.Fatalf("expected all variants, got %+v", all.Variants)
	}
}

func TestSearchVariantWordAloneIsNoMatch(t *testing.T) {
	if res := Search(testItems(), "large"); res.Kind != NoMatch {
		t.Fatalf("variant word must not select an item: %+v", res)
	}
	if res := Search(testItems(), "hello"); res.Kind != NoMatch {
		t.Fatalf("res = %+v", res)
	}
}

func TestMatchVariants(t *testing.T) {
	pizzas := Variants(testItems(), "pizza")
	if got := MatchVariants(pizzas, "medium"); len(got) != 1 || got[0].ID != 6 {
		t.Fatalf("got %+v", got)
	}
	if got := MatchVariants(pizzas, "pizza"); len(got) != 0 {
		t.Fatalf("canonical words must not score variants: %+v", got)
	}
}

type countingLoader struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (l *countingLoader) LoadActiveItems(ctx context.Context, tenantID string) ([]Item, error) {
	l.calls.Add(1)
	if l.fail.Load() {
		return nil, errors.New("db down")
	}
	return testItems(), nil
}

func TestCacheServesWithinTTLAndStaleOnError(t *testing.T) {
	loader := &countingLoader{}
	c := NewCache(loader, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.LoadActiveItems(ctx, "t1"); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("calls = %d", loader.calls.Load())
	}

	now = now.Add(2 * time.Minute)
	loader.fail.Store(true)
	items, err := c.LoadActiveItems(ctx, "t1")
	if err != nil || len(items) == 0 {
		t.Fatalf("expected stale items, err=%v", err)
	}
	if _, err := c.LoadActiveItems(ctx, "t2"); err == nil {
		t.Fatal("expected error without stale entry")
	}
}
