// Package reminder implements the tenant-wide slot batch: a cron-triggered
// sweep that, only inside configured daily time slots, nudges stale outbound
// threads through the send gate as reminder-category sends.
package reminder

import (
	"context"
	"fmt"
	"time"

	"followup/internal/domain"
	"followup/internal/observability"
	"followup/internal/store"
	"followup/internal/util"
)

type Store interface {
	GetTenant(ctx context.Context, tenantID string) (store.Tenant, bool, error)
	ReminderCandidates(ctx context.Context, tenantID string, since time.Time) ([]store.ReminderCandidate, error)
	IsSuppressed(ctx context.Context, phone string) (bool, error)
	ReminderHistory(ctx context.Context, leadID string, sinceInbound *time.Time) (int, *time.Time, error)
}

type Submitter interface {
	Submit(ctx context.Context, req domain.SubmitRequest) domain.GateResult
}

type Batch struct {
	Store Store
	Gate  Submitter

	// DefaultSlots applies when the tenant configured none.
	DefaultSlots []string
	Drift        time.Duration
	Lookback     time.Duration
	MaxIntervals int
	MinGap       time.Duration

	// Variants are rotated by tenant-local day index so consecutive
	// reminders to the same lead do not repeat verbatim.
	Variants []string

	Now func() time.Time
}

type LeadResult struct {
	LeadID     string `json:"leadId"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	ProviderID string `json:"providerId,omitempty"`
}

type RunResult struct {
	Skipped   string       `json:"skipped,omitempty"`
	Processed int          `json:"processed"`
	Results   []LeadResult `json:"results,omitempty"`
}

const SkipOutsideTimeslot = "outside_timeslot"

func (b *Batch) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return util.NowUTC()
}

// Run executes one slot evaluation for the tenant. Outside a slot window it
// is a cheap no-op, which lets the external trigger fire every few minutes
// while leads still see only a handful of natural daily touchpoints.
func (b *Batch) Run(ctx context.Context, tenantID string) (RunResult, error) {
	now := b.now()

	tenant, found, err := b.Store.GetTenant(ctx, tenantID)
	if err != nil {
		return RunResult{}, fmt.Errorf("tenant lookup: %w", err)
	}
	if !found {
		return RunResult{}, fmt.Errorf("tenant %s not found", tenantID)
	}
	if tenant.OutboundPaused {
		observability.ReminderRuns.WithLabelValues("paused").Inc()
		return RunResult{Skipped: string(domain.HoldAccountPaused)}, nil
	}
	if tenant.Timezone == "" {
		return RunResult{}, domain.ConfigError{Field: "timezone", Msg: "tenant timezone missing"}
	}
	loc, err := time.LoadLocation(tenant.Timezone)
	if err != nil {
		return RunResult{}, domain.ConfigError{Field: "timezone", Msg: err.Error()}
	}

	slots := tenant.ReminderSlots
	if len(slots) == 0 {
		slots = b.DefaultSlots
	}
	if !inSlot(now, loc, slots, b.Drift) {
		observability.ReminderRuns.WithLabelValues("outside_timeslot").Inc()
		return RunResult{Skipped: SkipOutsideTimeslot}, nil
	}

	candidates, err := b.Store.ReminderCandidates(ctx, tenantID, now.Add(-b.Lookback))
	if err != nil {
		return RunResult{}, fmt.Errorf("candidates: %w", err)
	}

	variant := b.pickVariant(now, loc)
	var out RunResult
	for _, c := range candidates {
		res, keep := b.runOne(ctx, c, variant, now)
		if !keep {
			continue
		}
		out.Processed++
		out.Results = append(out.Results, res)
	}
	observability.ReminderRuns.WithLabelValues("processed").Inc()
	return out, nil
}

// runOne applies the per-lead filters; keep is false when the lead was
// dropped before reaching the gate.
func (b *Batch) runOne(ctx context.Context, c store.ReminderCandidate, variant string, now time.Time) (LeadResult, bool) {
	// Already replied: the newest inbound postdates the newest outbound.
	if c.LastInboundAt != nil && c.LastInboundAt.After(c.LastOutboundAt) {
		return LeadResult{}, false
	}

	suppressed, err := b.Store.IsSuppressed(ctx, c.Phone)
	if err != nil {
		return LeadResult{LeadID: c.LeadID, Outcome: "failed", Reason: "suppression_unavailable"}, true
	}
	if suppressed {
		return LeadResult{}, false
	}

	count, newest, err := b.Store.ReminderHistory(ctx, c.LeadID, c.LastInboundAt)
	if err != nil {
		return LeadResult{LeadID: c.LeadID, Outcome: "failed", Reason: "history_unavailable"}, true
	}
	if b.MaxIntervals > 0 && count >= b.MaxIntervals {
		return LeadResult{}, false
	}
	if newest != nil && now.Sub(*newest) < b.MinGap {
		return LeadResult{}, false
	}

	gateRes := b.Gate.Submit(ctx, domain.SubmitRequest{
		LeadID:        c.LeadID,
		TenantID:      c.TenantID,
		CandidateBody: variant,
		Category:      domain.CategoryReminder,
		Provenance:    domain.ProvenanceAI,
	})

	res := LeadResult{LeadID: c.LeadID, Outcome: string(gateRes.Outcome), ProviderID: gateRes.ProviderID}
	res.Reason = string(gateRes.Reason)
	if gateRes.Outcome == domain.OutcomeFailed {
		res.Reason = gateRes.Detail
	}
	return res, true
}

func (b *Batch) pickVariant(now time.Time, loc *time.Location) string {
	if len(b.Variants) == 0 {
		return "Just checking in - any questions I can answer?"
	}
	return b.Variants[now.In(loc).YearDay()%len(b.Variants)]
}

// inSlot reports whether local now is within drift of any slot center.
func inSlot(now time.Time, loc *time.Location, slots []string, drift time.Duration) bool {
	local := now.In(loc)
	nowMin := local.Hour()*60 + local.Minute()
	driftMin := int(drift.Minutes())
	for _, s := range slots {
		var h, m int
		if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
			continue
		}
		center := h*60 + m
		diff := nowMin - center
		if diff < 0 {
			diff = -diff
		}
		if diff <= driftMin {
			return true
		}
	}
	return false
}
