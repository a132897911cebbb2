package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"followup/internal/domain"
	"followup/internal/store"
)

type mockStore struct {
	tenants     map[string]store.Tenant
	candidates  []store.ReminderCandidate
	suppressed  map[string]bool
	suppressErr error

	reminderCount  map[string]int
	newestReminder map[string]time.Time

	candidatesSince time.Time
}

func newMockStore() *mockStore {
	return &mockStore{
		tenants:        map[string]store.Tenant{},
		suppressed:     map[string]bool{},
		reminderCount:  map[string]int{},
		newestReminder: map[string]time.Time{},
	}
}

func (m *mockStore) GetTenant(_ context.Context, id string) (store.Tenant, bool, error) {
	t, ok := m.tenants[id]
	return t, ok, nil
}

func (m *mockStore) ReminderCandidates(_ context.Context, _ string, since time.Time) ([]store.ReminderCandidate, error) {
	m.candidatesSince = since
	return m.candidates, nil
}

func (m *mockStore) IsSuppressed(_ context.Context, phone string) (bool, error) {
	if m.suppressErr != nil {
		return false, m.suppressErr
	}
	return m.suppressed[phone], nil
}

func (m *mockStore) ReminderHistory(_ context.Context, leadID string, _ *time.Time) (int, *time.Time, error) {
	var newest *time.Time
	if t, ok := m.newestReminder[leadID]; ok {
		newest = &t
	}
	return m.reminderCount[leadID], newest, nil
}

type mockGate struct {
	reqs []domain.SubmitRequest
}

func (m *mockGate) Submit(_ context.Context, req domain.SubmitRequest) domain.GateResult {
	m.reqs = append(m.reqs, req)
	return domain.Sent("att_r", "SM9")
}

// 14:05 UTC, five minutes past the 14:00 slot center
var runNow = time.Date(2026, 3, 10, 14, 5, 0, 0, time.UTC)

func newBatch(st *mockStore, g *mockGate) *Batch {
	return &Batch{
		Store:        st,
		Gate:         g,
		DefaultSlots: []string{"10:00", "14:00", "17:30"},
		Drift:        10 * time.Minute,
		Lookback:     14 * 24 * time.Hour,
		MaxIntervals: 3,
		MinGap:       20 * time.Hour,
		Variants:     []string{"variant a {name}", "variant b {name}"},
		Now:          func() time.Time { return runNow },
	}
}

func seedTenant(st *mockStore) {
	st.tenants["t1"] = store.Tenant{ID: "t1", Timezone: "UTC"}
}

func candidate(leadID string) store.ReminderCandidate {
	return store.ReminderCandidate{
		LeadID:         leadID,
		TenantID:       "t1",
		Phone:          "+14155550100",
		LastOutboundAt: runNow.Add(-3 * 24 * time.Hour),
	}
}

func TestRunOutsideTimeslot(t *testing.T) {
	st := newMockStore()
	seedTenant(st)
	st.candidates = []store.ReminderCandidate{candidate("l1")}
	g := &mockGate{}
	b := newBatch(st, g)
	// 12:00 is more than 10 minutes from every slot center
	b.Now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	res, err := b.Run(context.Background(), "t1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped != SkipOutsideTimeslot {
		t.Fatalf("skipped = %q, want %q", res.Skipped, SkipOutsideTimeslot)
	}
	if len(g.reqs) != 0 {
		t.Fatal("nothing may be submitted outside a slot")
	}
}

func TestRunInSlotSubmitsReminder(t *testing.T) {
	st := newMockStore()
	seedTenant(st)
	st.candidates = []store.ReminderCandidate{candidate("l1")}
	g := &mockGate{}
	b := newBatch(st, g)

	res, err := b.Run(context.Background(), "t1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("processed = %d, want 1", res.Processed)
	}
	if len(g.reqs) != 1 {
		t.Fatalf("gate submits = %d, want 1", len(g.reqs))
	}
	req := g.reqs[0]
	if req.Category != domain.CategoryReminder || req.Provenance != domain.ProvenanceAI {
		t.Fatalf("request: %+v", req)
	}
	if want := runNow.Add(-14 * 24 * time.Hour); !st.candidatesSince.Equal(want) {
		t.Fatalf("lookback since = %v, want %v", st.candidatesSince, want)
	}
}

func TestRunTenantSlotOverridesDefaults(t *testing.T) {
	st := newMockStore()
	st.tenants["t1"] = store.Tenant{ID: "t1", Timezone: "UTC", ReminderSlots: []string{"09:00"}}
	st.candidates = []store.ReminderCandidate{candidate("l1")}
	g := &mockGate{}
	b := newBatch(st, g)

	// 14:05 matches the default slots but not the tenant's own
	res, err := b.Run(context.Background(), "t1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped != SkipOutsideTimeslot {
		t.Fatalf("skipped = %q, want %q", res.Skipped, SkipOutsideTimeslot)
	}
}

func TestRunPausedTenant(t *testing.T) {
	st := newMockStore()
	st.tenants["t1"] = store.Tenant{ID: "t1", Timezone: "UTC", OutboundPaused: true}
	b := newBatch(st, &mockGate{})

	res, err := b.Run(context.Background(), "t1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped != string(domain.HoldAccountPaused) {
		t.Fatalf("skipped = %q", res.Skipped)
	}
}

func TestRunMissingTimezoneIsConfigError(t *testing.T) {
	st := newMockStore()
	st.tenants["t1"] = store.Tenant{ID: "t1"}
	b := newBatch(st, &mockGate{})

	if _, err := b.Run(context.Background(), "t1"); err == nil {
		t.Fatal("expected config error for missing timezone")
	}
}

func TestRunFilters(t *testing.T) {
	st := newMockStore()
	seedTenant(st)
	g := &mockGate{}
	b := newBatch(st, g)

	replied := candidate("replied")
	in := runNow.Add(-time.Hour)
	replied.LastInboundAt = &in

	suppressed := candidate("suppressed")
	suppressed.Phone = "+14155550999"
	st.suppressed["+14155550999"] = true

	exhausted := candidate("exhausted")
	st.reminderCount["exhausted"] = 3

	tooSoon := candidate("too_soon")
	st.reminderCount["too_soon"] = 1
	st.newestReminder["too_soon"] = runNow.Add(-5 * time.Hour)

	fresh := candidate("fresh")

	st.candidates = []store.ReminderCandidate{replied, suppressed, exhausted, tooSoon, fresh}

	res, err := b.Run(context.Background(), "t1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("processed = %d, want 1: %+v", res.Processed, res.Results)
	}
	if len(g.reqs) != 1 || g.reqs[0].LeadID != "fresh" {
		t.Fatalf("gate submits: %+v", g.reqs)
	}
}

func TestRunVariantRotatesByDay(t *testing.T) {
	st := newMockStore()
	seedTenant(st)
	st.candidates = []store.ReminderCandidate{candidate("l1")}
	g := &mockGate{}
	b := newBatch(st, g)

	if _, err := b.Run(context.Background(), "t1"); err != nil {
		t.Fatalf("run: %v", err)
	}
	first := g.reqs[0].CandidateBody

	// next day, same slot
	b.Now = func() time.Time { return runNow.Add(24 * time.Hour) }
	if _, err := b.Run(context.Background(), "t1"); err != nil {
		t.Fatalf("run: %v", err)
	}
	second := g.reqs[1].CandidateBody

	if first == second {
		t.Fatalf("consecutive days should rotate variants, both %q", first)
	}
}

func TestRunSuppressionLookupFailureIsReported(t *testing.T) {
	st := newMockStore()
	seedTenant(st)
	st.candidates = []store.ReminderCandidate{candidate("l1")}
	st.suppressErr = errors.New("pg down")
	g := &mockGate{}
	b := newBatch(st, g)

	res, err := b.Run(context.Background(), "t1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(g.reqs) != 0 {
		t.Fatal("lead must not reach the gate when suppression is unknown")
	}
	if len(res.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(res.Results))
	}
	r := res.Results[0]
	if r.Outcome != "failed" || r.Reason != "suppression_unavailable" {
		t.Fatalf("got %s/%s, want failed/suppression_unavailable", r.Outcome, r.Reason)
	}
}
