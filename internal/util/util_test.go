package util

import (
	"strings"
	"testing"
)

func TestRenderTemplate(t *testing.T) {
	got := RenderTemplate("Hi {name}, your visit is {when}.", map[string]string{"name": "Sam", "when": "Tuesday"})
	if got != "Hi Sam, your visit is Tuesday." {
		t.Fatalf("got %q", got)
	}

	// unknown placeholders stay visible
	got = RenderTemplate("Hi {name}", nil)
	if got != "Hi {name}" {
		t.Fatalf("got %q", got)
	}
}

func TestAreaCode(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"+15551234567", "555"},
		{"+1 212 555 0100", "212"},
		{"+445551234567", ""},
		{"+1", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := AreaCode(tc.in); got != tc.want {
			t.Fatalf("AreaCode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewAttemptID(t *testing.T) {
	a, b := NewAttemptID(), NewAttemptID()
	if !strings.HasPrefix(a, "att_") || len(a) != len("att_")+26 {
		t.Fatalf("unexpected id %q", a)
	}
	if a == b {
		t.Fatal("ids must be unique")
	}
}
