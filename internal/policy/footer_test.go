package policy

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecideFooterHardRequirements(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-10 * 24 * time.Hour)
	stale := now.Add(-31 * 24 * time.Hour)

	cases := []struct {
		name       string
		isReminder bool
		lastAt     *time.Time
		want       bool
		reason     string
	}{
		{"reminder always discloses", true, &fresh, true, "reminder_category"},
		{"never disclosed", false, nil, true, "never_disclosed"},
		{"stale disclosure", false, &stale, true, "stale_disclosure"},
		{"recent disclosure", false, &fresh, false, "recent_disclosure"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := DecideFooter(tc.isReminder, tc.lastAt, now, 0, 0)
			if d.Apply != tc.want || d.Reason != tc.reason {
				t.Fatalf("got apply=%t reason=%q, want apply=%t reason=%q", d.Apply, d.Reason, tc.want, tc.reason)
			}
		})
	}
}

func TestDecideFooterOccasionalRefresh(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Hour)

	// every=3: applies when the message being composed is the 3rd, 6th, ...
	var got []bool
	for sent := 0; sent < 6; sent++ {
		d := DecideFooter(false, &fresh, now, sent, 3)
		got = append(got, d.Apply)
		if d.Apply && d.Reason != "occasional_refresh" {
			t.Fatalf("sentCount=%d: reason %q", sent, d.Reason)
		}
	}
	want := []bool{false, false, true, false, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentCount=%d: apply=%t, want %t", i, got[i], want[i])
		}
	}

	// every=0 disables the occasional policy entirely
	if d := DecideFooter(false, &fresh, now, 2, 0); d.Apply {
		t.Fatal("occasionalEvery=0 should never apply")
	}
}

func TestComposeBody(t *testing.T) {
	footer := "Reply STOP to opt out."

	out, err := ComposeBody("Hi there", footer, FooterDecision{Apply: true})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if out != "Hi there "+footer {
		t.Fatalf("unexpected composed body %q", out)
	}

	out, err = ComposeBody("Hi there", footer, FooterDecision{Apply: false})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if out != "Hi there" {
		t.Fatalf("footer appended despite apply=false: %q", out)
	}
}

func TestComposeBodyOverflow(t *testing.T) {
	footer := "Reply STOP to opt out."
	body := strings.Repeat("x", SegmentBudget-10)

	// fits without the footer, overflows with it
	if _, err := ComposeBody(body, footer, FooterDecision{Apply: false}); err != nil {
		t.Fatalf("body alone should fit: %v", err)
	}
	_, err := ComposeBody(body, footer, FooterDecision{Apply: true})
	var tooLong TooLongError
	if !errors.As(err, &tooLong) {
		t.Fatalf("expected TooLongError, got %v", err)
	}
	if !tooLong.WithFooter {
		t.Fatal("overflow should be attributed to the footer")
	}

	// overflows on its own
	_, err = ComposeBody(strings.Repeat("x", SegmentBudget+1), "", FooterDecision{Apply: false})
	if !errors.As(err, &tooLong) {
		t.Fatalf("expected TooLongError, got %v", err)
	}
	if tooLong.WithFooter {
		t.Fatal("bare-body overflow should not blame the footer")
	}

	// exactly at budget passes
	if _, err := ComposeBody(strings.Repeat("x", SegmentBudget), "", FooterDecision{}); err != nil {
		t.Fatalf("exact budget should pass: %v", err)
	}
}

func TestComposeBodyCountsRunes(t *testing.T) {
	// 160 runes, well over 160 bytes
	body := strings.Repeat("é", SegmentBudget)
	if _, err := ComposeBody(body, "", FooterDecision{}); err != nil {
		t.Fatalf("160 runes should fit regardless of byte length: %v", err)
	}

	_, err := ComposeBody(body+"é", "", FooterDecision{})
	var tooLong TooLongError
	if !errors.As(err, &tooLong) {
		t.Fatalf("expected TooLongError, got %v", err)
	}
	if tooLong.Length != SegmentBudget+1 {
		t.Fatalf("reported length %d, want %d runes", tooLong.Length, SegmentBudget+1)
	}
}
