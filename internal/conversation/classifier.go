package conversation

import (
	"strings"
	"time"

	"followup/internal/domain"
)

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// TagBooked is the explicit scheduling intent tag an outbound record may
// carry. When any record in the window carries an intent tag, tags decide the
// booked verdict and the keyword heuristic is ignored.
const TagBooked = "booked"

// Message is the slice of a lead's history the classifier needs.
type Message struct {
	Direction Direction
	Body      string
	IntentTag string
	SentAt    time.Time
}

// StaleAfter is how long an unanswered thread survives before it is dead.
const StaleAfter = 30 * 24 * time.Hour

// MaxUnanswered is the unanswered-outbound count at which a thread is dead.
const MaxUnanswered = 3

// bookedKeywords is a heuristic fallback over inbound bodies. Approximate on
// purpose; swap the classifier implementation before tuning these.
var bookedKeywords = []string{"booked", "scheduled", "confirmed", "see you", "looking forward"}

// Classify derives the booked/dead/should-remind flags from a bounded history
// window. history may be in any order; optedOut is the lead's terminal flag.
func Classify(history []Message, optedOut bool, now time.Time) domain.ConversationState {
	st := domain.ConversationState{OptedOut: optedOut}

	var newestIn, newestOut *time.Time
	hasTags := false
	for i := range history {
		m := &history[i]
		switch m.Direction {
		case Inbound:
			if newestIn == nil || m.SentAt.After(*newestIn) {
				t := m.SentAt
				newestIn = &t
			}
		case Outbound:
			if newestOut == nil || m.SentAt.After(*newestOut) {
				t := m.SentAt
				newestOut = &t
			}
			if m.IntentTag != "" {
				hasTags = true
			}
		}
	}

	st.HasBooked = classifyBooked(history, hasTags)
	st.UnansweredOutboundCount = countUnanswered(history, newestIn)

	switch {
	case st.UnansweredOutboundCount >= MaxUnanswered:
		st.IsDead = true
	case newestOut != nil && newestIn == nil && now.Sub(*newestOut) >= StaleAfter:
		st.IsDead = true
	case newestOut != nil && newestIn != nil && newestOut.After(*newestIn) && now.Sub(*newestOut) >= StaleAfter:
		st.IsDead = true
	}

	st.ShouldSendReminder = !optedOut && !st.HasBooked && !st.IsDead
	return st
}

func classifyBooked(history []Message, hasTags bool) bool {
	if hasTags {
		for _, m := range history {
			if m.Direction == Outbound && m.IntentTag == TagBooked {
				return true
			}
		}
		return false
	}
	for _, m := range history {
		if m.Direction != Inbound {
			continue
		}
		body := strings.ToLower(m.Body)
		for _, kw := range bookedKeywords {
			if strings.Contains(body, kw) {
				return true
			}
		}
	}
	return false
}

// countUnanswered counts outbound messages strictly newer than the newest
// inbound. With no inbound at all, every outbound is unanswered.
func countUnanswered(history []Message, newestIn *time.Time) int {
	n := 0
	for _, m := range history {
		if m.Direction != Outbound {
			continue
		}
		if newestIn == nil || m.SentAt.After(*newestIn) {
			n++
		}
	}
	return n
}
