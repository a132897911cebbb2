package gate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"followup/internal/carrier"
	"followup/internal/conversation"
	"followup/internal/domain"
	"followup/internal/store"
)

type mockStore struct {
	tenants     map[string]store.Tenant
	leads       map[string]store.Lead
	suppressed  map[string]bool
	history     map[string][]conversation.Message
	sendCounts  map[string]int
	recent24h   map[string]int
	attempts    []store.AttemptInsert
	sentUpdates []store.LeadSentUpdate

	insertErr   error
	markSentErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		tenants:    map[string]store.Tenant{},
		leads:      map[string]store.Lead{},
		suppressed: map[string]bool{},
		history:    map[string][]conversation.Message{},
		sendCounts: map[string]int{},
		recent24h:  map[string]int{},
	}
}

func (m *mockStore) GetTenant(_ context.Context, id string) (store.Tenant, bool, error) {
	t, ok := m.tenants[id]
	return t, ok, nil
}

func (m *mockStore) GetLead(_ context.Context, id string) (store.Lead, bool, error) {
	l, ok := m.leads[id]
	return l, ok, nil
}

func (m *mockStore) IsSuppressed(_ context.Context, phone string) (bool, error) {
	return m.suppressed[phone], nil
}

func (m *mockStore) RecentMessages(_ context.Context, leadID string, _ int) ([]conversation.Message, error) {
	return m.history[leadID], nil
}

func (m *mockStore) CountLeadAttemptsSince(_ context.Context, leadID string, _ time.Time) (int, error) {
	return m.recent24h[leadID], nil
}

func (m *mockStore) CountLeadSends(_ context.Context, leadID string) (int, error) {
	return m.sendCounts[leadID], nil
}

func (m *mockStore) InsertAttempt(_ context.Context, in store.AttemptInsert) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.attempts = append(m.attempts, in)
	return nil
}

func (m *mockStore) MarkLeadSent(_ context.Context, in store.LeadSentUpdate) error {
	if m.markSentErr != nil {
		return m.markSentErr
	}
	m.sentUpdates = append(m.sentUpdates, in)
	return nil
}

type mockCarrier struct {
	sends  []carrier.SendRequest
	err    error
	status int
}

func (m *mockCarrier) Name() string { return "mock" }

func (m *mockCarrier) Send(_ context.Context, req carrier.SendRequest) (carrier.SendResponse, int, []byte, error) {
	if m.err != nil {
		status := m.status
		if status == 0 {
			status = 500
		}
		return carrier.SendResponse{}, status, nil, m.err
	}
	m.sends = append(m.sends, req)
	return carrier.SendResponse{ProviderMsgID: "SM123", Status: "queued"}, 201, nil, nil
}

// noon tenant-local, safely inside the default 08:00-21:00 window
var testNow = time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)

func newTestGate(st *mockStore, c carrier.Sender) *Gate {
	return &Gate{
		Store:           st,
		Carrier:         c,
		FooterText:      "Reply STOP to opt out.",
		OccasionalEvery: 3,
		Now:             func() time.Time { return testNow },
	}
}

func seed(st *mockStore) {
	st.tenants["t1"] = store.Tenant{
		ID:         "t1",
		QuietStart: "08:00",
		QuietEnd:   "21:00",
		Timezone:   "America/New_York",
		RegionCaps: map[string]int{"212": 1},
	}
	st.leads["l1"] = store.Lead{ID: "l1", TenantID: "t1", Phone: "+14155550100"}
}

func submitReq() domain.SubmitRequest {
	return domain.SubmitRequest{
		LeadID:        "l1",
		TenantID:      "t1",
		CandidateBody: "Hi {name}, following up on your inquiry.",
		Category:      domain.CategoryInitialOutreach,
		Provenance:    domain.ProvenanceOperator,
		Vars:          map[string]string{"name": "Sam"},
	}
}

func TestSubmitSendsWithFooter(t *testing.T) {
	st := newMockStore()
	seed(st)
	c := &mockCarrier{}
	g := newTestGate(st, c)

	res := g.Submit(context.Background(), submitReq())
	if res.Outcome != domain.OutcomeSent {
		t.Fatalf("outcome = %s (%s %s), want sent", res.Outcome, res.Reason, res.Detail)
	}
	if res.ProviderID != "SM123" {
		t.Fatalf("provider id = %q", res.ProviderID)
	}
	if len(c.sends) != 1 {
		t.Fatalf("carrier sends = %d, want 1", len(c.sends))
	}
	body := c.sends[0].Body
	if !strings.Contains(body, "Sam") {
		t.Fatalf("vars not rendered: %q", body)
	}
	// never disclosed before, so the footer is mandatory
	if !strings.HasSuffix(body, "Reply STOP to opt out.") {
		t.Fatalf("footer missing: %q", body)
	}

	if len(st.attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(st.attempts))
	}
	att := st.attempts[0]
	if att.Status != "queued" || att.ProviderMsgID != "SM123" {
		t.Fatalf("attempt status=%q provider_msg_id=%q", att.Status, att.ProviderMsgID)
	}
	if len(st.sentUpdates) != 1 || !st.sentUpdates[0].FooterApplied {
		t.Fatalf("lead recency update missing or footer flag wrong: %+v", st.sentUpdates)
	}
}

func TestSubmitHoldsOptedOutEvenForReply(t *testing.T) {
	st := newMockStore()
	seed(st)
	lead := st.leads["l1"]
	lead.OptedOut = true
	st.leads["l1"] = lead
	c := &mockCarrier{}
	g := newTestGate(st, c)

	req := submitReq()
	req.Category = domain.CategoryResponse
	req.IsReply = true

	res := g.Submit(context.Background(), req)
	if res.Outcome != domain.OutcomeHeld || res.Reason != domain.HoldOptedOut {
		t.Fatalf("got %s/%s, want held/opted_out", res.Outcome, res.Reason)
	}
	if len(c.sends) != 0 {
		t.Fatal("nothing may reach the carrier for an opted-out lead")
	}
	// the hold is still recorded in the audit ledger
	if len(st.attempts) != 1 || st.attempts[0].Status != "held" {
		t.Fatalf("held attempt not persisted: %+v", st.attempts)
	}
}

func TestSubmitCooldownHold(t *testing.T) {
	st := newMockStore()
	seed(st)
	lead := st.leads["l1"]
	last := testNow.Add(-2 * time.Hour)
	lead.LastSentAt = &last
	st.leads["l1"] = lead
	g := newTestGate(st, &mockCarrier{})

	res := g.Submit(context.Background(), submitReq())
	if res.Outcome != domain.OutcomeHeld || res.Reason != domain.HoldCooldown {
		t.Fatalf("got %s/%s, want held/24h_cap", res.Outcome, res.Reason)
	}
}

func TestSubmitReplyExemptFromCooldownAndQuietHours(t *testing.T) {
	st := newMockStore()
	seed(st)
	lead := st.leads["l1"]
	last := testNow.Add(-time.Hour)
	lead.LastSentAt = &last
	st.leads["l1"] = lead
	c := &mockCarrier{}
	g := newTestGate(st, c)
	// middle of the night tenant-local
	g.Now = func() time.Time { return time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC) }

	req := submitReq()
	req.Category = domain.CategoryResponse
	req.IsReply = true

	res := g.Submit(context.Background(), req)
	if res.Outcome != domain.OutcomeSent {
		t.Fatalf("reply should bypass quota checks, got %s/%s/%s", res.Outcome, res.Reason, res.Detail)
	}
}

func TestSubmitQuietHoursHold(t *testing.T) {
	st := newMockStore()
	seed(st)
	g := newTestGate(st, &mockCarrier{})
	// 08:00 UTC = 03:00 in New York
	g.Now = func() time.Time { return time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC) }

	res := g.Submit(context.Background(), submitReq())
	if res.Outcome != domain.OutcomeHeld || res.Reason != domain.HoldQuietHours {
		t.Fatalf("got %s/%s, want held/quiet_hours", res.Outcome, res.Reason)
	}
}

func TestSubmitRegionCapHold(t *testing.T) {
	st := newMockStore()
	seed(st)
	lead := st.leads["l1"]
	lead.Phone = "+12125550100" // scrutinized area code
	st.leads["l1"] = lead
	st.recent24h["l1"] = 1
	g := newTestGate(st, &mockCarrier{})

	res := g.Submit(context.Background(), submitReq())
	if res.Outcome != domain.OutcomeHeld || res.Reason != domain.HoldRegionCap {
		t.Fatalf("got %s/%s, want held/region_cap", res.Outcome, res.Reason)
	}
}

func TestSubmitReminderToBookedAndDeadThreads(t *testing.T) {
	st := newMockStore()
	seed(st)
	g := newTestGate(st, &mockCarrier{})

	req := submitReq()
	req.Category = domain.CategoryReminder

	st.history["l1"] = []conversation.Message{
		{Direction: conversation.Inbound, Body: "all booked, thanks", SentAt: testNow.Add(-time.Hour)},
	}
	res := g.Submit(context.Background(), req)
	if res.Outcome != domain.OutcomeHeld || res.Reason != domain.HoldAlreadyBooked {
		t.Fatalf("got %s/%s, want held/already_booked", res.Outcome, res.Reason)
	}

	st.history["l1"] = []conversation.Message{
		{Direction: conversation.Outbound, SentAt: testNow.Add(-3 * time.Hour)},
		{Direction: conversation.Outbound, SentAt: testNow.Add(-2 * time.Hour)},
		{Direction: conversation.Outbound, SentAt: testNow.Add(-time.Hour)},
	}
	res = g.Submit(context.Background(), req)
	if res.Outcome != domain.OutcomeHeld || res.Reason != domain.HoldConversationDead {
		t.Fatalf("got %s/%s, want held/conversation_dead", res.Outcome, res.Reason)
	}
}

func TestSubmitTooLongWithFooter(t *testing.T) {
	st := newMockStore()
	seed(st)
	c := &mockCarrier{}
	g := newTestGate(st, c)

	req := submitReq()
	req.CandidateBody = strings.Repeat("x", 150) // fits alone, not with footer
	req.Vars = nil

	res := g.Submit(context.Background(), req)
	if res.Outcome != domain.OutcomeFailed || res.Detail != domain.FailureTooLongWithFooter {
		t.Fatalf("got %s/%q, want failed/too_long_with_footer", res.Outcome, res.Detail)
	}
	if len(c.sends) != 0 {
		t.Fatal("overflowing body must not be dispatched")
	}
}

func TestSubmitCarrierFailure(t *testing.T) {
	st := newMockStore()
	seed(st)
	c := &mockCarrier{err: errors.New("boom")}
	g := newTestGate(st, c)

	res := g.Submit(context.Background(), submitReq())
	if res.Outcome != domain.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}
	if !strings.Contains(res.Detail, "boom") {
		t.Fatalf("detail = %q", res.Detail)
	}
	if len(st.attempts) != 1 || st.attempts[0].Status != "failed" {
		t.Fatalf("failed attempt not persisted: %+v", st.attempts)
	}
	if !res.Retryable {
		t.Fatal("carrier 500 must be marked retryable")
	}
}

func TestSubmitCarrierFailureTerminal(t *testing.T) {
	st := newMockStore()
	seed(st)
	c := &mockCarrier{err: errors.New("invalid To number"), status: 400}
	g := newTestGate(st, c)

	res := g.Submit(context.Background(), submitReq())
	if res.Outcome != domain.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}
	if res.Retryable {
		t.Fatal("carrier 400 must not be marked retryable")
	}
}

func TestSubmitBookkeepingFailureStaysSent(t *testing.T) {
	st := newMockStore()
	seed(st)
	st.markSentErr = errors.New("pg down")
	c := &mockCarrier{}
	g := newTestGate(st, c)

	res := g.Submit(context.Background(), submitReq())
	if res.Outcome != domain.OutcomeSent {
		t.Fatalf("outcome = %s, want sent despite bookkeeping failure", res.Outcome)
	}
	if res.BookkeepingError == "" {
		t.Fatal("bookkeeping error should be surfaced")
	}
	if len(c.sends) != 1 {
		t.Fatalf("carrier sends = %d, want exactly 1 (no compensating re-send)", len(c.sends))
	}
}

func TestSubmitValidation(t *testing.T) {
	g := newTestGate(newMockStore(), &mockCarrier{})

	res := g.Submit(context.Background(), domain.SubmitRequest{LeadID: "l1"})
	if res.Outcome != domain.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}

	res = g.Submit(context.Background(), submitReq())
	if res.Outcome != domain.OutcomeFailed || res.Detail != "tenant_not_found" {
		t.Fatalf("got %s/%q, want failed/tenant_not_found", res.Outcome, res.Detail)
	}
}
