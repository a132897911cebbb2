package domain

import "errors"

// Category classifies why an outbound message exists.
type Category string

const (
	CategoryInitialOutreach Category = "initial_outreach"
	CategoryResponse        Category = "response"
	CategoryReminder        Category = "reminder"
)

// Provenance records who authored a send: a human operator or the drafting service.
type Provenance string

const (
	ProvenanceOperator Provenance = "operator"
	ProvenanceAI       Provenance = "ai"
)

type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeHeld   Outcome = "held"
	OutcomeFailed Outcome = "failed"
)

// HoldReason codes are terminal policy rejections. Resubmitting the same
// conditions yields the same hold; they are never retried in a loop.
type HoldReason string

const (
	HoldAccountPaused    HoldReason = "account_paused"
	HoldBlackout         HoldReason = "blackout"
	HoldOptedOut         HoldReason = "opted_out"
	HoldSuppressed       HoldReason = "suppressed"
	HoldAlreadyBooked    HoldReason = "already_booked"
	HoldConversationDead HoldReason = "conversation_dead"
	HoldQuietHours       HoldReason = "quiet_hours"
	HoldCooldown         HoldReason = "24h_cap"
	HoldRegionCap        HoldReason = "region_cap"
	HoldDailyCap         HoldReason = "daily_cap"
	HoldWeeklyCap        HoldReason = "weekly_cap"
)

// FailureTooLongWithFooter is the one failure detail callers are expected to
// branch on: regenerate a shorter body and resubmit once.
const FailureTooLongWithFooter = "too_long_with_footer"

type SubmitRequest struct {
	LeadID        string            `json:"leadId"`
	TenantID      string            `json:"tenantId"`
	CandidateBody string            `json:"body"`
	Category      Category          `json:"category"`
	IsReply       bool              `json:"isReply"`
	Provenance    Provenance        `json:"provenance"`
	OperatorID    string            `json:"operatorId,omitempty"`
	Vars          map[string]string `json:"vars,omitempty"`
}

var ErrMissingFields = errors.New("missing required fields")

func (r SubmitRequest) Validate() error {
	if r.LeadID == "" || r.TenantID == "" || r.CandidateBody == "" || r.Category == "" {
		return ErrMissingFields
	}
	switch r.Category {
	case CategoryInitialOutreach, CategoryResponse, CategoryReminder:
	default:
		return ErrMissingFields
	}
	return nil
}

// GateResult is the only shape callers ever see: exactly one of sent, held or
// failed, plus human-readable reason/detail strings.
type GateResult struct {
	Outcome    Outcome    `json:"outcome"`
	AttemptID  string     `json:"attemptId,omitempty"`
	ProviderID string     `json:"providerId,omitempty"`
	Reason     HoldReason `json:"reason,omitempty"`
	Detail     string     `json:"detail,omitempty"`

	// Retryable marks a failed dispatch as transient (timeout, 429, 5xx,
	// open breaker): the same request may be resubmitted on a later tick.
	Retryable bool `json:"retryable,omitempty"`

	// BookkeepingError is set when the carrier accepted the message but the
	// audit write failed afterwards. The send still counts as sent; the
	// bookkeeping is retried separately, never the dispatch.
	BookkeepingError string `json:"bookkeepingError,omitempty"`
}

func Sent(attemptID, providerID string) GateResult {
	return GateResult{Outcome: OutcomeSent, AttemptID: attemptID, ProviderID: providerID}
}

func Held(attemptID string, reason HoldReason) GateResult {
	return GateResult{Outcome: OutcomeHeld, AttemptID: attemptID, Reason: reason}
}

func Failed(detail string) GateResult {
	return GateResult{Outcome: OutcomeFailed, Detail: detail}
}

// ConversationState is the classifier's verdict over a lead's recent history.
type ConversationState struct {
	HasBooked               bool `json:"hasBooked"`
	UnansweredOutboundCount int  `json:"unansweredOutboundCount"`
	IsDead                  bool `json:"isDead"`
	OptedOut                bool `json:"optedOut"`
	ShouldSendReminder      bool `json:"shouldSendReminder"`
}
