package meta

import "testing"

func TestDetect(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
	}{
		{"cancel", Reset},
		{"Cancel my order please!", Reset},
		{"hi, cancel", Reset},
		{"start over", Reset},
		{"go back", Back},
		{"back", Back},
		{"12 back gate road, near temple", None},
		{"talk to a person", Agent},
		{"help", Help},
		{"show menu", Menu},
		{"hi", Greeting},
		{"Hello!!", Greeting},
		{"hi bro", Greeting},
		{"hey there sir", Greeting},
		{"good morning", Greeting},
		{"hi, give me 2 biryani", None},
		{"hi biryani", None},
		{"hi bro sir anna", None},
		{"2 chicken biryani", None},
		{"feedback on delivery", None},
		{"", None},
	}
	for _, tc := range cases {
		if got := Detect(tc.in); got != tc.want {
			t.Errorf("Detect(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEscapeTakesPriorityOverGreeting(t *testing.T) {
	for _, in := range []string{"hello reset", "hi restart", "vanakkam order vendam"} {
		if !IsEscape(in) {
			t.Errorf("%q should be an escape", in)
		}
	}
}

func TestIsExactAgent(t *testing.T) {
	for _, s := range []string{"agent", "Human!", "customer care"} {
		if !IsExactAgent(s) {
			t.Errorf("%q should be an explicit agent request", s)
		}
	}
	for _, s := range []string{"Flat 4, Manager Quarters", "near LIC agent office", "hi"} {
		if IsExactAgent(s) {
			t.Errorf("%q should not be an explicit agent request", s)
		}
	}
}
