package sender

import "testing"

func TestNormalizeDestination(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+90 555 000 0123", "905550000123", true},
		{"905550000123", "905550000123", true},
		{"  531 000 00 00 ", "5310000000", true},
		{"@ops_channel", "@ops_channel", true},
		{"+", "", false},
		{"", "", false},
		{"@", "", false},
		{"not-a-number", "", false},
		{"+90x555", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeDestination(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("NormalizeDestination(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRecipientFor(t *testing.T) {
	if r := recipientFor("12345"); r.Recipient() != "12345" {
		t.Fatalf("numeric recipient = %q", r.Recipient())
	}
	if r := recipientFor("@chan"); r.Recipient() != "@chan" {
		t.Fatalf("username recipient = %q", r.Recipient())
	}
}
