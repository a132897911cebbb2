package main

import (
	"context"
	"testing"
	"time"

	sqsqueue "followup/internal/queue/sqs"
	"followup/internal/store"
)

type mockCallbackStore struct {
	updates     []store.ProviderMsgUpdate
	updateMatch bool
	events      []store.DeliveryEvent

	leads        map[string]store.Lead
	inbound      []store.InboundInsert
	optedOut     []string
	suppressions []string
}

func newMockCallbackStore() *mockCallbackStore {
	return &mockCallbackStore{updateMatch: true, leads: map[string]store.Lead{}}
}

func (m *mockCallbackStore) UpdateAttemptByProviderMsgID(_ context.Context, in store.ProviderMsgUpdate) (bool, error) {
	m.updates = append(m.updates, in)
	return m.updateMatch, nil
}

func (m *mockCallbackStore) InsertDeliveryEvent(_ context.Context, ev store.DeliveryEvent) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *mockCallbackStore) FindLeadByPhone(_ context.Context, phone string) (store.Lead, bool, error) {
	l, ok := m.leads[phone]
	return l, ok, nil
}

func (m *mockCallbackStore) InsertInboundMessage(_ context.Context, in store.InboundInsert) error {
	m.inbound = append(m.inbound, in)
	return nil
}

func (m *mockCallbackStore) MarkLeadInbound(_ context.Context, leadID string, _ time.Time) error {
	return nil
}

func (m *mockCallbackStore) MarkLeadOptedOut(_ context.Context, leadID string, _ time.Time) error {
	m.optedOut = append(m.optedOut, leadID)
	return nil
}

func (m *mockCallbackStore) InsertSuppression(_ context.Context, phone, reason string, _ time.Time) error {
	m.suppressions = append(m.suppressions, phone)
	return nil
}

func statusEvent(status string) sqsqueue.CallbackEvent {
	return sqsqueue.CallbackEvent{
		Kind:          sqsqueue.KindStatus,
		Provider:      "twilio",
		ProviderMsgID: "SM1",
		Status:        status,
		ReceivedAt:    time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC),
	}
}

func TestProcessStatusAdvancesSent(t *testing.T) {
	st := newMockCallbackStore()
	if err := processCallbackEvent(context.Background(), st, statusEvent("sent")); err != nil {
		t.Fatalf("processCallbackEvent: %v", err)
	}
	if len(st.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(st.updates))
	}
	up := st.updates[0]
	if up.NewStatus != "sent" || up.Terminal {
		t.Fatalf("got %q/terminal=%v, want sent/non-terminal", up.NewStatus, up.Terminal)
	}
	if len(st.events) != 1 {
		t.Fatal("delivery event not recorded")
	}
}

func TestProcessStatusSentAfterTerminalIsNotAnError(t *testing.T) {
	st := newMockCallbackStore()
	st.updateMatch = false
	if err := processCallbackEvent(context.Background(), st, statusEvent("sent")); err != nil {
		t.Fatalf("late sent callback must not redrive: %v", err)
	}
}

func TestProcessStatusTerminalMustMatch(t *testing.T) {
	st := newMockCallbackStore()
	st.updateMatch = false
	if err := processCallbackEvent(context.Background(), st, statusEvent("delivered")); err == nil {
		t.Fatal("unmatched terminal status must error for redrive")
	}
}

func TestProcessStatusDelivered(t *testing.T) {
	st := newMockCallbackStore()
	if err := processCallbackEvent(context.Background(), st, statusEvent("delivered")); err != nil {
		t.Fatalf("processCallbackEvent: %v", err)
	}
	up := st.updates[0]
	if up.NewStatus != "delivered" || !up.Terminal {
		t.Fatalf("got %q/terminal=%v, want delivered/terminal", up.NewStatus, up.Terminal)
	}
}

func TestProcessInboundStopKeyword(t *testing.T) {
	st := newMockCallbackStore()
	st.leads["+14155550100"] = store.Lead{ID: "l1", TenantID: "t1", Phone: "+14155550100"}

	ev := sqsqueue.CallbackEvent{
		Kind:       sqsqueue.KindInbound,
		Provider:   "twilio",
		From:       "+14155550100",
		Body:       " stop ",
		ReceivedAt: time.Now().UTC(),
	}
	if err := processCallbackEvent(context.Background(), st, ev); err != nil {
		t.Fatalf("processCallbackEvent: %v", err)
	}
	if len(st.inbound) != 1 {
		t.Fatal("inbound message not recorded")
	}
	if len(st.optedOut) != 1 || st.optedOut[0] != "l1" {
		t.Fatalf("optedOut = %v", st.optedOut)
	}
	if len(st.suppressions) != 1 || st.suppressions[0] != "+14155550100" {
		t.Fatalf("suppressions = %v", st.suppressions)
	}
}
