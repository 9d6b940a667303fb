package flow

import (
	"testing"

	"chat_order/internal/convo"
)

func TestParseMultiItem(t *testing.T) {
	cases := []struct {
		in   string
		want []convo.QueueEntry
	}{
		{"2 chicken biryani, 1 coke", []convo.QueueEntry{{Name: "chicken biryani", Qty: 2}, {Name: "coke", Qty: 1}}},
		{"pizza and coke", []convo.QueueEntry{{Name: "pizza"}, {Name: "coke"}}},
		{"biryani x2; two coke", []convo.QueueEntry{{Name: "biryani", Qty: 2}, {Name: "coke", Qty: 2}}},
		{"chicken 65 + parotta", []convo.QueueEntry{{Name: "chicken 65"}, {Name: "parotta"}}},
	}
	for _, c := range cases {
		got := ParseMultiItem(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q: got %+v", c.in, got)
		}
		for i := range got {
			if got[i].Name != c.want[i].Name || got[i].Qty != c.want[i].Qty {
				t.Fatalf("%q[%d]: got %+v want %+v", c.in, i, got[i], c.want[i])
			}
		}
	}

	for _, single := range []string{"2 chicken biryani", "coke", "", " , "} {
		if got := ParseMultiItem(single); got != nil {
			t.Fatalf("%q must not queue: %+v", single, got)
		}
	}
}

func TestParseQuantity(t *testing.T) {
	ok := map[string]int{"3": 3, "x3": 3, "3x": 3, "three": 3, "3 plates": 3, "99": 99, "rendu": 2}
	for in, want := range ok {
		n, valid := ParseQuantity(in)
		if !valid || n != want {
			t.Fatalf("%q = %d,%v want %d", in, n, valid, want)
		}
	}
	for _, bad := range []string{"0", "100", "many", "", "give me three of them please"} {
		if _, valid := ParseQuantity(bad); valid {
			t.Fatalf("%q must be rejected", bad)
		}
	}
}

func TestParseChoice(t *testing.T) {
	if n, ok := ParseChoice(" 2. "); !ok || n != 2 {
		t.Fatalf("got %d,%v", n, ok)
	}
	if _, ok := ParseChoice("2 pizzas"); ok {
		t.Fatal("text with words is not a choice")
	}
}

func TestQtyHint(t *testing.T) {
	if n := QtyHint("2 chicken biryani"); n != 2 {
		t.Fatalf("hint = %d", n)
	}
	if n := QtyHint("chicken 65"); n != 0 {
		t.Fatalf("dish number is not a quantity: %d", n)
	}
}

func TestLooksLikeAddress(t *testing.T) {
	for _, s := range []string{"12 Anna Salai", "flat 4b", "near bus stand", "No. 5, 2nd cross street, Adyar"} {
		if !LooksLikeAddress(s) {
			t.Fatalf("%q should look like an address", s)
		}
	}
	for _, s := range []string{"ok", "hmm", "no", "yes please"} {
		if LooksLikeAddress(s) {
			t.Fatalf("%q should not look like an address", s)
		}
	}
}

func TestMoney(t *testing.T) {
	cases := map[int64]string{0: "₹0", 25000: "₹250", 19950: "₹199.50", -500: "-₹5"}
	for in, want := range cases {
		if got := Money(in); got != want {
			t.Fatalf("Money(%d) = %q want %q", in, got, want)
		}
	}
}
