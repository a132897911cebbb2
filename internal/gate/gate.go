// Package gate is the single choke point every outbound attempt passes
// through, regardless of caller. It applies the policy checks in order,
// shapes the final body, dispatches to the carrier and persists one audit
// record per run.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"followup/internal/carrier"
	"followup/internal/carrier/twilio"
	"followup/internal/conversation"
	"followup/internal/domain"
	"followup/internal/observability"
	"followup/internal/policy"
	"followup/internal/store"
	"followup/internal/util"
)

type Store interface {
	GetTenant(ctx context.Context, tenantID string) (store.Tenant, bool, error)
	GetLead(ctx context.Context, leadID string) (store.Lead, bool, error)
	IsSuppressed(ctx context.Context, phone string) (bool, error)
	RecentMessages(ctx context.Context, leadID string, limit int) ([]conversation.Message, error)
	CountLeadAttemptsSince(ctx context.Context, leadID string, since time.Time) (int, error)
	CountLeadSends(ctx context.Context, leadID string) (int, error)
	InsertAttempt(ctx context.Context, in store.AttemptInsert) error
	MarkLeadSent(ctx context.Context, in store.LeadSentUpdate) error
}

const (
	// Cooldown between non-reply sends to the same lead.
	Cooldown = 24 * time.Hour
	// HistoryLimit bounds the classifier window per direction.
	HistoryLimit = 25
)

type Gate struct {
	Store   Store
	Carrier carrier.Sender
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker

	// FooterText is the fallback disclosure when the tenant has none.
	FooterText      string
	OccasionalEvery int
	DispatchTimeout time.Duration

	Now func() time.Time
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return util.NowUTC()
}

// Submit runs the full pipeline for one attempt. It never returns an error:
// every internal failure is folded into the three-way sent/held/failed result
// so no exception types leak past the gate boundary.
func (g *Gate) Submit(ctx context.Context, req domain.SubmitRequest) domain.GateResult {
	res := g.submit(ctx, req)
	reason := string(res.Reason)
	if reason == "" {
		reason = res.Detail
	}
	observability.GateDecisions.WithLabelValues(string(res.Outcome), reason).Inc()
	return res
}

func (g *Gate) submit(ctx context.Context, req domain.SubmitRequest) domain.GateResult {
	if err := req.Validate(); err != nil {
		return domain.Failed(err.Error())
	}

	now := g.now()
	attemptID := util.NewAttemptID()
	glog := &Log{}

	tenant, found, err := g.Store.GetTenant(ctx, req.TenantID)
	if err != nil {
		return domain.Failed("tenant lookup: " + err.Error())
	}
	if !found {
		return domain.Failed("tenant_not_found")
	}
	lead, found, err := g.Store.GetLead(ctx, req.LeadID)
	if err != nil {
		return domain.Failed("lead lookup: " + err.Error())
	}
	if !found {
		return domain.Failed("lead_not_found")
	}

	// 1. Tenant kill switch.
	if tenant.OutboundPaused {
		glog.check("account_paused", false, string(domain.HoldAccountPaused), nil)
		return g.hold(ctx, attemptID, req, glog, domain.HoldAccountPaused, now)
	}
	glog.check("account_paused", true, "", nil)

	loc, err := time.LoadLocation(tenant.Timezone)
	if err != nil || tenant.Timezone == "" {
		e := domain.ConfigError{Field: "timezone", Msg: "tenant timezone missing or invalid"}
		return g.fail(ctx, attemptID, req, glog, e.Error(), now)
	}

	// 2. Blackout calendar.
	if on, day := policy.OnBlackoutDate(now, loc, tenant.BlackoutDates); on {
		glog.check("blackout", false, string(domain.HoldBlackout), map[string]string{"date": day})
		return g.hold(ctx, attemptID, req, glog, domain.HoldBlackout, now)
	}
	glog.check("blackout", true, "", nil)

	// 3. Opt-out is terminal; nothing past this point matters for the lead.
	if lead.OptedOut {
		glog.check("opted_out", false, string(domain.HoldOptedOut), nil)
		return g.hold(ctx, attemptID, req, glog, domain.HoldOptedOut, now)
	}
	glog.check("opted_out", true, "", nil)

	// 4. Cross-tenant suppression list.
	suppressed, err := g.Store.IsSuppressed(ctx, lead.Phone)
	if err != nil {
		return domain.Failed("suppression lookup: " + err.Error())
	}
	if suppressed {
		glog.check("suppressed", false, string(domain.HoldSuppressed), nil)
		return g.hold(ctx, attemptID, req, glog, domain.HoldSuppressed, now)
	}
	glog.check("suppressed", true, "", nil)

	// 5. Reminders never go to booked or dead threads.
	if req.Category == domain.CategoryReminder && !req.IsReply {
		history, err := g.Store.RecentMessages(ctx, req.LeadID, HistoryLimit)
		if err != nil {
			return domain.Failed("history lookup: " + err.Error())
		}
		state := conversation.Classify(history, lead.OptedOut, now)
		if state.HasBooked {
			glog.check("conversation", false, string(domain.HoldAlreadyBooked), state)
			return g.hold(ctx, attemptID, req, glog, domain.HoldAlreadyBooked, now)
		}
		if state.IsDead {
			glog.check("conversation", false, string(domain.HoldConversationDead), state)
			return g.hold(ctx, attemptID, req, glog, domain.HoldConversationDead, now)
		}
		glog.check("conversation", true, "", state)
	}

	// 6. Quiet hours, cooldown, region cap. A reply must never be blocked by
	// any of them.
	if hold, res := g.quotaChecks(ctx, attemptID, req, tenant, lead, loc, now, glog); hold {
		return res
	}

	// 7. Render template variables.
	body := util.RenderTemplate(req.CandidateBody, req.Vars)

	// 8. Compliance footer.
	sentCount, err := g.Store.CountLeadSends(ctx, req.LeadID)
	if err != nil {
		return domain.Failed("send count lookup: " + err.Error())
	}
	decision := policy.DecideFooter(req.Category == domain.CategoryReminder,
		lead.LastFooterAt, now, sentCount, g.OccasionalEvery)
	footer := tenant.FooterText
	if footer == "" {
		footer = g.FooterText
	}
	composed, err := policy.ComposeBody(body, footer, decision)
	if err != nil {
		var tooLong policy.TooLongError
		detail := err.Error()
		if errors.As(err, &tooLong) && tooLong.WithFooter {
			detail = domain.FailureTooLongWithFooter
		}
		glog.Footer = &FooterLog{Applied: decision.Apply, Reason: decision.Reason, Length: tooLong.Length}
		return g.fail(ctx, attemptID, req, glog, detail, now)
	}
	glog.Footer = &FooterLog{Applied: decision.Apply && footer != "", Reason: decision.Reason, Length: utf8.RuneCountInString(composed)}

	// 9. Carrier dispatch, exactly once per pipeline run.
	resp, httpStatus, _, err := g.dispatch(ctx, lead.Phone, composed)
	glog.Dispatch = &DispatchLog{Provider: g.Carrier.Name(), HTTPStatus: httpStatus, ProviderMsgID: resp.ProviderMsgID}
	observability.CarrierLatency.Observe(time.Since(now).Seconds())
	if err != nil {
		retryable := twilio.ShouldRetry(err, httpStatus) ||
			errors.Is(err, errRateLimitedLocal) || errors.Is(err, errCircuitOpen)
		glog.Dispatch.Error = err.Error()
		glog.Dispatch.Retryable = retryable
		observability.CarrierSend.WithLabelValues(g.Carrier.Name(), "error", strconv.Itoa(httpStatus)).Inc()
		res := g.fail(ctx, attemptID, req, glog, "carrier: "+err.Error(), now)
		res.Retryable = retryable
		return res
	}
	observability.CarrierSend.WithLabelValues(g.Carrier.Name(), "ok", strconv.Itoa(httpStatus)).Inc()

	// 10. Persist the audit record and lead recency. The message is already
	// irrevocably out: a failure here is a bookkeeping problem, never grounds
	// for a compensating re-send.
	status := resp.Status
	if status == "" {
		status = "queued"
	}
	result := domain.Sent(attemptID, resp.ProviderMsgID)
	if err := g.persist(ctx, attemptID, req, glog, composed, status, "", "", resp.ProviderMsgID, now); err != nil {
		result.BookkeepingError = "attempt record: " + err.Error()
	} else if err := g.Store.MarkLeadSent(ctx, store.LeadSentUpdate{
		LeadID:        req.LeadID,
		SentAt:        now,
		FooterApplied: glog.Footer.Applied,
	}); err != nil {
		result.BookkeepingError = "lead update: " + err.Error()
	}
	if result.BookkeepingError != "" {
		observability.BookkeepingFailures.Inc()
		slog.Error("gate bookkeeping failed after dispatch",
			"err", result.BookkeepingError,
			"lead_id", req.LeadID,
			"attempt_id", attemptID,
			"provider_msg_id", resp.ProviderMsgID,
		)
	}
	return result
}

func (g *Gate) quotaChecks(ctx context.Context, attemptID string, req domain.SubmitRequest, tenant store.Tenant, lead store.Lead, loc *time.Location, now time.Time, glog *Log) (bool, domain.GateResult) {
	if req.IsReply {
		glog.check("quiet_hours", true, "reply_exempt", policy.WindowDiagnostics{Exempt: true})
		glog.check("cooldown", true, "reply_exempt", policy.CooldownDiagnostics{Exempt: true})
		glog.check("region_cap", true, "reply_exempt", policy.RegionCapDiagnostics{Exempt: true})
		return false, domain.GateResult{}
	}

	open, wd, err := policy.InSendWindow(now, loc, tenant.QuietStart, tenant.QuietEnd)
	if err != nil {
		e := domain.ConfigError{Field: "quiet_hours", Msg: err.Error()}
		return true, g.fail(ctx, attemptID, req, glog, e.Error(), now)
	}
	if !open {
		glog.check("quiet_hours", false, string(domain.HoldQuietHours), wd)
		return true, g.hold(ctx, attemptID, req, glog, domain.HoldQuietHours, now)
	}
	glog.check("quiet_hours", true, "", wd)

	if ok, cd := policy.CooldownElapsed(now, lead.LastSentAt, Cooldown); !ok {
		glog.check("cooldown", false, string(domain.HoldCooldown), cd)
		return true, g.hold(ctx, attemptID, req, glog, domain.HoldCooldown, now)
	} else {
		glog.check("cooldown", true, "", cd)
	}

	area := util.AreaCode(lead.Phone)
	count := 0
	if _, scrutinized := tenant.RegionCaps[area]; scrutinized {
		count, err = g.Store.CountLeadAttemptsSince(ctx, req.LeadID, now.Add(-24*time.Hour))
		if err != nil {
			return true, domain.Failed("region count lookup: " + err.Error())
		}
	}
	if ok, rd := policy.UnderRegionCap(area, count, tenant.RegionCaps); !ok {
		glog.check("region_cap", false, string(domain.HoldRegionCap), rd)
		return true, g.hold(ctx, attemptID, req, glog, domain.HoldRegionCap, now)
	} else {
		glog.check("region_cap", true, "", rd)
	}
	return false, domain.GateResult{}
}

func (g *Gate) dispatch(ctx context.Context, to, body string) (carrier.SendResponse, int, []byte, error) {
	if g.Limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := g.Limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			return carrier.SendResponse{}, 0, nil, errRateLimitedLocal
		}
	}

	call := func() (any, error) {
		timeout := g.DispatchTimeout
		if timeout <= 0 {
			timeout = 6 * time.Second
		}
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		resp, httpStatus, raw, callErr := g.Carrier.Send(reqCtx, carrier.SendRequest{To: to, Body: body})
		if callErr != nil {
			return nil, carrierCallError{err: callErr, httpStatus: httpStatus, raw: raw}
		}
		return dispatchResult{resp: resp, httpStatus: httpStatus, raw: raw}, nil
	}

	var resAny any
	var err error
	if g.Breaker != nil {
		resAny, err = g.Breaker.Execute(call)
	} else {
		resAny, err = call()
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return carrier.SendResponse{}, 0, nil, errCircuitOpen
		}
		var cce carrierCallError
		if errors.As(err, &cce) {
			return carrier.SendResponse{}, cce.httpStatus, cce.raw, cce.err
		}
		return carrier.SendResponse{}, 0, nil, err
	}
	r := resAny.(dispatchResult)
	return r.resp, r.httpStatus, r.raw, nil
}

func (g *Gate) hold(ctx context.Context, attemptID string, req domain.SubmitRequest, glog *Log, reason domain.HoldReason, now time.Time) domain.GateResult {
	if err := g.persist(ctx, attemptID, req, glog, req.CandidateBody, "held", string(reason), "", "", now); err != nil {
		slog.Error("gate hold audit write failed", "err", err, "lead_id", req.LeadID, "reason", string(reason))
	}
	return domain.Held(attemptID, reason)
}

func (g *Gate) fail(ctx context.Context, attemptID string, req domain.SubmitRequest, glog *Log, detail string, now time.Time) domain.GateResult {
	if err := g.persist(ctx, attemptID, req, glog, req.CandidateBody, "failed", "", detail, "", now); err != nil {
		slog.Error("gate failure audit write failed", "err", err, "lead_id", req.LeadID, "detail", detail)
	}
	res := domain.Failed(detail)
	res.AttemptID = attemptID
	return res
}

func (g *Gate) persist(ctx context.Context, attemptID string, req domain.SubmitRequest, glog *Log, body, status, holdReason, lastError, providerMsgID string, now time.Time) error {
	provider := ""
	if glog.Dispatch != nil {
		provider = glog.Dispatch.Provider
	}
	return g.Store.InsertAttempt(ctx, store.AttemptInsert{
		ID:            attemptID,
		LeadID:        req.LeadID,
		TenantID:      req.TenantID,
		Body:          body,
		Category:      string(req.Category),
		Provenance:    string(req.Provenance),
		OperatorID:    req.OperatorID,
		Status:        status,
		HoldReason:    holdReason,
		Provider:      provider,
		ProviderMsgID: providerMsgID,
		LastError:     lastError,
		GateLog:       glog,
		Now:           now,
	})
}

// Both local throttles are transient: nothing reached the carrier, so the
// caller may resubmit on its next tick.
var (
	errRateLimitedLocal = errors.New("rate_limited_local")
	errCircuitOpen      = errors.New("carrier_circuit_open")
)

type dispatchResult struct {
	resp       carrier.SendResponse
	httpStatus int
	raw        []byte
}

type carrierCallError struct {
	err        error
	httpStatus int
	raw        []byte
}

func (e carrierCallError) Error() string { return e.err.Error() }
func (e carrierCallError) Unwrap() error { return e.err }
