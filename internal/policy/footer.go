package policy

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// SegmentBudget is the single-segment GSM-7 character limit the composed
// message must fit in.
const SegmentBudget = 160

// FooterMaxAge is how long a prior disclosure stays fresh.
const FooterMaxAge = 30 * 24 * time.Hour

type FooterDecision struct {
	Apply  bool   `json:"apply"`
	Reason string `json:"reason"`
}

// DecideFooter decides whether the compliance disclosure must be appended.
// Hard requirements: reminder-category sends, leads never disclosed to, and
// disclosures older than 30 days. When not required, the occasional policy
// still appends on every occasionalEvery-th message, keyed off sentCount (the
// number of prior sends, so the message being composed is sentCount+1). The
// modulo keeps the refresh deterministic and testable.
func DecideFooter(isReminder bool, lastFooterAt *time.Time, now time.Time, sentCount, occasionalEvery int) FooterDecision {
	switch {
	case isReminder:
		return FooterDecision{Apply: true, Reason: "reminder_category"}
	case lastFooterAt == nil:
		return FooterDecision{Apply: true, Reason: "never_disclosed"}
	case now.Sub(*lastFooterAt) >= FooterMaxAge:
		return FooterDecision{Apply: true, Reason: "stale_disclosure"}
	}
	if occasionalEvery > 0 && (sentCount+1)%occasionalEvery == 0 {
		return FooterDecision{Apply: true, Reason: "occasional_refresh"}
	}
	return FooterDecision{Apply: false, Reason: "recent_disclosure"}
}

// TooLongError reports a composed message that exceeds the segment budget.
// When the overflow is caused by an appended footer the caller may regenerate
// a shorter body and resubmit once; the footer itself is never truncated.
type TooLongError struct {
	Length     int
	Budget     int
	WithFooter bool
}

func (e TooLongError) Error() string {
	return fmt.Sprintf("message length %d exceeds segment budget %d (footer=%t)", e.Length, e.Budget, e.WithFooter)
}

// ComposeBody appends the footer when the decision requires it and validates
// the final length against the segment budget. Length counts runes, not
// bytes, so a curly quote or accent cannot sneak past or miscount the budget.
func ComposeBody(body, footer string, d FooterDecision) (string, error) {
	out := body
	if d.Apply && footer != "" {
		out = body + " " + footer
	}
	if n := utf8.RuneCountInString(out); n > SegmentBudget {
		return "", TooLongError{Length: n, Budget: SegmentBudget, WithFooter: d.Apply && footer != ""}
	}
	return out, nil
}
