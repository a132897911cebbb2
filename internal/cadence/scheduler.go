// Package cadence drives the per-lead follow-up program: a polling worker
// that claims due cursors, drafts a message and pushes it through the send
// gate, then reschedules or terminates the cursor.
package cadence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"followup/internal/conversation"
	"followup/internal/domain"
	"followup/internal/draft"
	"followup/internal/gate"
	"followup/internal/observability"
	"followup/internal/policy"
	"followup/internal/store"
	"followup/internal/util"
)

type Store interface {
	DueCursors(ctx context.Context, now time.Time, limit int) ([]store.Cursor, error)
	ClaimCursors(ctx context.Context, ids []string, now time.Time, staleAfter time.Duration) ([]string, error)
	GetTenant(ctx context.Context, tenantID string) (store.Tenant, bool, error)
	GetLead(ctx context.Context, leadID string) (store.Lead, bool, error)
	RecentMessages(ctx context.Context, leadID string, limit int) ([]conversation.Message, error)
	LatestInboundBody(ctx context.Context, leadID string) (string, bool, error)
	CountTenantSendsSince(ctx context.Context, tenantID string, category string, since time.Time) (int, error)
	InsertAttempt(ctx context.Context, in store.AttemptInsert) error
	InsertFollowupLog(ctx context.Context, in store.FollowupLogInsert) error
	UpdateCursor(ctx context.Context, in store.CursorUpdate) error
	ReleaseCursor(ctx context.Context, cursorID string, now time.Time) error
}

type Submitter interface {
	Submit(ctx context.Context, req domain.SubmitRequest) domain.GateResult
}

type Scheduler struct {
	Store  Store
	Gate   Submitter
	Drafts draft.Generator

	// DraftMaxChars is the character cap handed to the draft generator;
	// ShrinkChars is subtracted for the one redraft after a footer overflow.
	DraftMaxChars int
	ShrinkChars   int

	// StaleAfter is how long a processing cursor may sit before another tick
	// may reclaim it (a crashed worker's leftovers).
	StaleAfter time.Duration

	Now func() time.Time
}

type TickResult struct {
	CursorID   string `json:"cursorId"`
	LeadID     string `json:"leadId"`
	Attempt    int    `json:"attempt"`
	Outcome    string `json:"outcome"` // sent | held | failed | skipped
	Reason     string `json:"reason,omitempty"`
	ProviderID string `json:"providerId,omitempty"`
}

type TickSummary struct {
	Picked    int          `json:"picked"`
	Processed int          `json:"processed"`
	Results   []TickResult `json:"results"`
}

const fallbackContext = "The lead has not replied yet. Write a short, friendly follow-up nudge."

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return util.NowUTC()
}

// Tick selects up to limit due cursors, claims them via the conditional
// status flip, and processes each. Cursors another tick claimed first are
// counted in picked but not processed.
func (s *Scheduler) Tick(ctx context.Context, limit int) (TickSummary, error) {
	now := s.now()

	due, err := s.Store.DueCursors(ctx, now, limit)
	if err != nil {
		return TickSummary{}, fmt.Errorf("select due cursors: %w", err)
	}
	summary := TickSummary{Picked: len(due)}
	if len(due) == 0 {
		return summary, nil
	}

	ids := make([]string, len(due))
	byID := make(map[string]store.Cursor, len(due))
	for i, c := range due {
		ids[i] = c.ID
		byID[c.ID] = c
	}
	claimed, err := s.Store.ClaimCursors(ctx, ids, now, s.StaleAfter)
	if err != nil {
		return summary, fmt.Errorf("claim cursors: %w", err)
	}

	for _, id := range claimed {
		cursor := byID[id]
		res := s.processOne(ctx, cursor)
		observability.CadenceCursors.WithLabelValues(res.Outcome).Inc()
		summary.Processed++
		summary.Results = append(summary.Results, res)
	}
	return summary, nil
}

func (s *Scheduler) processOne(ctx context.Context, cursor store.Cursor) TickResult {
	now := s.now()
	attemptNo := cursor.Attempt + 1
	res := TickResult{CursorID: cursor.ID, LeadID: cursor.LeadID, Attempt: attemptNo}

	tenant, found, err := s.Store.GetTenant(ctx, cursor.TenantID)
	if err != nil || !found {
		return s.release(ctx, cursor, res, "failed", "tenant_unavailable")
	}
	if tenant.OutboundPaused {
		// Pause stops dispatch instantly; the cursor waits unchanged.
		return s.release(ctx, cursor, res, "skipped", string(domain.HoldAccountPaused))
	}

	lead, found, err := s.Store.GetLead(ctx, cursor.LeadID)
	if err != nil || !found {
		return s.release(ctx, cursor, res, "failed", "lead_unavailable")
	}

	// A converted, dead or opted-out lead terminates the program early.
	history, err := s.Store.RecentMessages(ctx, cursor.LeadID, gate.HistoryLimit)
	if err != nil {
		return s.release(ctx, cursor, res, "failed", "history_unavailable")
	}
	state := conversation.Classify(history, lead.OptedOut, now)
	if !state.ShouldSendReminder {
		reason := "conversation_dead"
		if state.OptedOut {
			reason = string(domain.HoldOptedOut)
		} else if state.HasBooked {
			reason = string(domain.HoldAlreadyBooked)
		}
		return s.terminate(ctx, cursor, res, reason)
	}

	// Coarse tenant day/week caps, checked before paying for a draft. A cap
	// hit leaves nextAt alone: retry next tick, when the window has moved.
	category := domain.CategoryResponse
	newThread := lead.LastOutboundAt == nil
	if newThread {
		category = domain.CategoryInitialOutreach
	}
	dayCount, err := s.Store.CountTenantSendsSince(ctx, cursor.TenantID, string(category), now.Add(-24*time.Hour))
	if err != nil {
		return s.release(ctx, cursor, res, "failed", "cap_count_unavailable")
	}
	weekCount, err := s.Store.CountTenantSendsSince(ctx, cursor.TenantID, string(category), now.Add(-7*24*time.Hour))
	if err != nil {
		return s.release(ctx, cursor, res, "failed", "cap_count_unavailable")
	}
	if ok, capReason, diag := policy.UnderSendCaps(dayCount, weekCount, tenant.DailyCap, tenant.WeeklyCap); !ok {
		if err := s.Store.InsertAttempt(ctx, store.AttemptInsert{
			ID:         util.NewAttemptID(),
			LeadID:     cursor.LeadID,
			TenantID:   cursor.TenantID,
			Body:       "",
			Category:   string(category),
			Provenance: string(domain.ProvenanceAI),
			Status:     "held",
			HoldReason: capReason,
			GateLog:    map[string]any{"checks": []any{map[string]any{"name": "send_caps", "passed": false, "reason": capReason, "details": diag}}},
			Now:        now,
		}); err != nil {
			slog.Error("cadence cap audit write failed", "err", err, "lead_id", cursor.LeadID)
		}
		return s.release(ctx, cursor, res, "held", capReason)
	}

	// Context for the draft: the lead's own words when we have them.
	threadContext := fallbackContext
	if body, ok, err := s.Store.LatestInboundBody(ctx, cursor.LeadID); err == nil && ok {
		threadContext = "The lead last wrote: " + body
	}

	maxChars := s.DraftMaxChars
	text, err := s.Drafts.Draft(ctx, draft.Request{TenantID: cursor.TenantID, Context: threadContext, MaxChars: maxChars})
	if err != nil {
		return s.release(ctx, cursor, res, "failed", "draft_error")
	}
	if text == "" {
		return s.release(ctx, cursor, res, "skipped", "no_draft")
	}
	if newThread && tenant.IntroLine != "" {
		text = tenant.IntroLine + " " + text
	}

	gateRes := s.Gate.Submit(ctx, domain.SubmitRequest{
		LeadID:        cursor.LeadID,
		TenantID:      cursor.TenantID,
		CandidateBody: text,
		Category:      category,
		Provenance:    domain.ProvenanceAI,
	})

	// One shrink-and-redraft when the footer pushed us over the segment
	// budget. Never more than one.
	if gateRes.Outcome == domain.OutcomeFailed && gateRes.Detail == domain.FailureTooLongWithFooter {
		shrunk := maxChars - s.ShrinkChars
		if shrunk > 0 {
			text, err = s.Drafts.Draft(ctx, draft.Request{TenantID: cursor.TenantID, Context: threadContext, MaxChars: shrunk})
			if err == nil && text != "" {
				if newThread && tenant.IntroLine != "" {
					text = tenant.IntroLine + " " + text
				}
				gateRes = s.Gate.Submit(ctx, domain.SubmitRequest{
					LeadID:        cursor.LeadID,
					TenantID:      cursor.TenantID,
					CandidateBody: text,
					Category:      category,
					Provenance:    domain.ProvenanceAI,
				})
			}
		}
	}

	res.Outcome = string(gateRes.Outcome)
	res.ProviderID = gateRes.ProviderID
	res.Reason = string(gateRes.Reason)
	if gateRes.Outcome == domain.OutcomeFailed {
		res.Reason = gateRes.Detail
	}

	s.logTick(ctx, cursor, attemptNo, res)

	// Transient failures leave the cursor due for the next tick; policy holds
	// and sends both consume the attempt and move the schedule forward.
	if gateRes.Outcome == domain.OutcomeFailed {
		s.releaseQuiet(ctx, cursor)
		return res
	}
	s.advance(ctx, cursor, attemptNo, now)
	return res
}

// advance applies attempt accounting: exhausted programs terminate, everything
// else reschedules by the plan with the final interval repeated for attempts
// past the plan's end.
func (s *Scheduler) advance(ctx context.Context, cursor store.Cursor, attemptNo int, now time.Time) {
	if attemptNo >= cursor.MaxAttempts || len(cursor.Plan) == 0 {
		s.updateCursor(ctx, cursor, store.CursorDone, attemptNo, cursor.NextAt, now)
		return
	}
	idx := attemptNo - 1
	if idx >= len(cursor.Plan) {
		idx = len(cursor.Plan) - 1
	}
	nextAt := now.Add(time.Duration(cursor.Plan[idx]) * 24 * time.Hour)
	s.updateCursor(ctx, cursor, store.CursorActive, attemptNo, nextAt, now)
}

func (s *Scheduler) terminate(ctx context.Context, cursor store.Cursor, res TickResult, reason string) TickResult {
	res.Outcome = "skipped"
	res.Reason = reason
	s.logTick(ctx, cursor, res.Attempt, res)
	s.updateCursor(ctx, cursor, store.CursorDone, cursor.Attempt, cursor.NextAt, s.now())
	return res
}

func (s *Scheduler) release(ctx context.Context, cursor store.Cursor, res TickResult, outcome, reason string) TickResult {
	res.Outcome = outcome
	res.Reason = reason
	s.logTick(ctx, cursor, res.Attempt, res)
	s.releaseQuiet(ctx, cursor)
	return res
}

func (s *Scheduler) releaseQuiet(ctx context.Context, cursor store.Cursor) {
	if err := s.Store.ReleaseCursor(ctx, cursor.ID, s.now()); err != nil {
		slog.Error("cadence cursor release failed", "err", err, "cursor_id", cursor.ID)
	}
}

func (s *Scheduler) updateCursor(ctx context.Context, cursor store.Cursor, status string, attempt int, nextAt, now time.Time) {
	if err := s.Store.UpdateCursor(ctx, store.CursorUpdate{
		ID:      cursor.ID,
		Status:  status,
		Attempt: attempt,
		NextAt:  nextAt,
		Now:     now,
	}); err != nil {
		slog.Error("cadence cursor update failed", "err", err, "cursor_id", cursor.ID, "status", status)
	}
}

func (s *Scheduler) logTick(ctx context.Context, cursor store.Cursor, attemptNo int, res TickResult) {
	if err := s.Store.InsertFollowupLog(ctx, store.FollowupLogInsert{
		CursorID:      cursor.ID,
		LeadID:        cursor.LeadID,
		Attempt:       attemptNo,
		PlannedAt:     cursor.NextAt,
		Outcome:       res.Outcome,
		Reason:        res.Reason,
		ProviderMsgID: res.ProviderID,
		Now:           s.now(),
	}); err != nil {
		slog.Error("followup log write failed", "err", err, "cursor_id", cursor.ID)
	}
}
