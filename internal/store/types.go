package store

import (
	"encoding/json"
	"time"
)

// Tenant settings are operator-owned and read-only to the core.
type Tenant struct {
	ID              string
	OutboundPaused  bool
	QuietStart      string // local "HH:MM", inclusive window start
	QuietEnd        string
	Timezone        string // IANA name; required for any local-time check
	BlackoutDates   []string
	DailyCap        int // coarse per-tenant caps consulted by the cadence tick
	WeeklyCap       int
	RegionCaps      map[string]int // area code -> max sends per lead per 24h
	TemplateVersion string
	ReminderSlots   []string // local "HH:MM" slot centers; empty uses defaults
	IntroLine       string   // identity introduction prefixed to new threads
	FooterText      string   // compliance disclosure + opt-out instructions
}

type Lead struct {
	ID             string
	TenantID       string
	Phone          string // E.164
	OptedOut       bool
	LastSentAt     *time.Time
	LastFooterAt   *time.Time
	LastInboundAt  *time.Time
	LastOutboundAt *time.Time
}

// Attempt is one row of the append-only outbound audit ledger. Held and
// failed runs are recorded alongside sends; the ledger is what the rolling
// cap checks re-query.
type Attempt struct {
	ID            string
	LeadID        string
	TenantID      string
	Body          string
	Category      string
	Provenance    string
	OperatorID    string
	Status        string // held | failed | queued | sent | delivered
	HoldReason    string
	Provider      string
	ProviderMsgID string
	LastError     string
	GateLogJSON   json.RawMessage
	CreatedAt     time.Time
}

type AttemptInsert struct {
	ID            string
	LeadID        string
	TenantID      string
	Body          string
	Category      string
	Provenance    string
	OperatorID    string
	Status        string
	HoldReason    string
	Provider      string
	ProviderMsgID string
	LastError     string
	GateLog       any
	Now           time.Time
}

type LeadSentUpdate struct {
	LeadID        string
	SentAt        time.Time
	FooterApplied bool
}

// Cursor is the persisted scheduling state for one lead's follow-up program.
// Rows are terminated (status done), never deleted.
type Cursor struct {
	ID          string
	LeadID      string
	TenantID    string
	Attempt     int
	Plan        []int // ordered day offsets, e.g. [3, 7, 14]
	MaxAttempts int
	NextAt      time.Time
	Status      string // active | processing | done
	UpdatedAt   time.Time
}

const (
	CursorActive     = "active"
	CursorProcessing = "processing"
	CursorDone       = "done"
)

// CursorInsert enrolls a lead into a follow-up program. One live cursor per
// lead; re-enrolling while a cursor is active or processing is a no-op.
type CursorInsert struct {
	ID          string
	LeadID      string
	TenantID    string
	Plan        []int
	MaxAttempts int
	NextAt      time.Time
	Now         time.Time
}

type CursorUpdate struct {
	ID      string
	Status  string
	Attempt int
	NextAt  time.Time
	Now     time.Time
}

type FollowupLogInsert struct {
	CursorID      string
	LeadID        string
	Attempt       int
	PlannedAt     time.Time
	Outcome       string // sent | skipped | held | failed
	Reason        string
	ProviderMsgID string
	Now           time.Time
}

// ReminderCandidate is a lead whose newest outbound attempt falls inside the
// reminder lookback window.
type ReminderCandidate struct {
	LeadID         string
	TenantID       string
	Phone          string
	LastOutboundAt time.Time
	LastInboundAt  *time.Time
}

type DeliveryEvent struct {
	Provider      string
	ProviderMsgID string
	VendorStatus  string
	ErrorCode     string
	Payload       any
	OccurredAt    *time.Time
}

type ProviderMsgUpdate struct {
	Provider      string
	ProviderMsgID string
	NewStatus     string
	LastError     string
	// Terminal statuses (delivered, failed) overwrite anything. Non-terminal
	// ones only advance queued attempts, so an out-of-order "sent" callback
	// never regresses a delivered or failed row.
	Terminal bool
	Now      time.Time
}

type InboundInsert struct {
	LeadID   string
	TenantID string
	Phone    string
	Body     string
	Now      time.Time
}
