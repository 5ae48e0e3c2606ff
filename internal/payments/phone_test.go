package payments

import "testing"

func TestCanonicalizePhone(t *testing.T) {
	rules := DefaultPhoneRules()

	cases := []struct {
		in   string
		want string
	}{
		{"712345678", "+254712345678"},     // bare local number
		{"254712345678", "+254712345678"},  // country code, missing plus
		{"+1234567890123", "+1234567890123"}, // other lengths pass through
		{"+254712345678", "+254712345678"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CanonicalizePhone(tc.in, rules); got != tc.want {
			t.Errorf("CanonicalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalizePhoneCustomRules(t *testing.T) {
	rules := PhoneRules{LocalDigits: 10, LocalPrefix: "+1", FullDigits: 11, FullPrefix: "+"}
	if got := CanonicalizePhone("5551234567", rules); got != "+15551234567" {
		t.Errorf("got %q", got)
	}
	if got := CanonicalizePhone("15551234567", rules); got != "+15551234567" {
		t.Errorf("got %q", got)
	}
}
