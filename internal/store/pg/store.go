package pg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"followup/internal/conversation"
	"followup/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) GetTenant(ctx context.Context, tenantID string) (store.Tenant, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, outbound_paused, COALESCE(quiet_start,''), COALESCE(quiet_end,''),
		       COALESCE(timezone,''), COALESCE(blackout_dates,'[]'), daily_cap, weekly_cap,
		       COALESCE(region_caps,'{}'), COALESCE(template_version,''),
		       COALESCE(reminder_slots,'[]'), COALESCE(intro_line,''), COALESCE(footer_text,'')
		FROM tenants WHERE id=$1
	`, tenantID)

	var t store.Tenant
	var blackout, regionCaps, slots []byte
	err := row.Scan(&t.ID, &t.OutboundPaused, &t.QuietStart, &t.QuietEnd, &t.Timezone,
		&blackout, &t.DailyCap, &t.WeeklyCap, &regionCaps, &t.TemplateVersion,
		&slots, &t.IntroLine, &t.FooterText)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Tenant{}, false, nil
		}
		return store.Tenant{}, false, err
	}
	_ = json.Unmarshal(blackout, &t.BlackoutDates)
	_ = json.Unmarshal(regionCaps, &t.RegionCaps)
	_ = json.Unmarshal(slots, &t.ReminderSlots)
	return t, true, nil
}

func (s *Store) ListActiveTenants(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT id FROM tenants WHERE NOT outbound_paused ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GetLead(ctx context.Context, leadID string) (store.Lead, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, tenant_id, phone, opted_out, last_sent_at, last_footer_at, last_inbound_at, last_outbound_at
		FROM leads WHERE id=$1
	`, leadID)
	return scanLead(row)
}

func (s *Store) FindLeadByPhone(ctx context.Context, phone string) (store.Lead, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, tenant_id, phone, opted_out, last_sent_at, last_footer_at, last_inbound_at, last_outbound_at
		FROM leads WHERE phone=$1 ORDER BY created_at DESC LIMIT 1
	`, phone)
	return scanLead(row)
}

func scanLead(row pgx.Row) (store.Lead, bool, error) {
	var l store.Lead
	err := row.Scan(&l.ID, &l.TenantID, &l.Phone, &l.OptedOut,
		&l.LastSentAt, &l.LastFooterAt, &l.LastInboundAt, &l.LastOutboundAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Lead{}, false, nil
		}
		return store.Lead{}, false, err
	}
	return l, true, nil
}

func (s *Store) MarkLeadSent(ctx context.Context, in store.LeadSentUpdate) error {
	if in.FooterApplied {
		_, err := s.DB.Exec(ctx, `
			UPDATE leads SET last_sent_at=$2, last_outbound_at=$2, last_footer_at=$2, updated_at=$2 WHERE id=$1
		`, in.LeadID, in.SentAt)
		return err
	}
	_, err := s.DB.Exec(ctx, `
		UPDATE leads SET last_sent_at=$2, last_outbound_at=$2, updated_at=$2 WHERE id=$1
	`, in.LeadID, in.SentAt)
	return err
}

func (s *Store) MarkLeadInbound(ctx context.Context, leadID string, at time.Time) error {
	_, err := s.DB.Exec(ctx, `UPDATE leads SET last_inbound_at=$2, updated_at=$2 WHERE id=$1`, leadID, at)
	return err
}

func (s *Store) MarkLeadOptedOut(ctx context.Context, leadID string, at time.Time) error {
	_, err := s.DB.Exec(ctx, `UPDATE leads SET opted_out=TRUE, updated_at=$2 WHERE id=$1`, leadID, at)
	return err
}

func (s *Store) IsSuppressed(ctx context.Context, phone string) (bool, error) {
	row := s.DB.QueryRow(ctx, `SELECT 1 FROM suppression_list WHERE phone=$1`, phone)
	var one int
	err := row.Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) InsertSuppression(ctx context.Context, phone, reason string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO suppression_list (phone, reason, created_at)
		VALUES ($1,$2,$3) ON CONFLICT (phone) DO NOTHING
	`, phone, reason, now)
	return err
}

func (s *Store) InsertAttempt(ctx context.Context, in store.AttemptInsert) error {
	logB, _ := json.Marshal(in.GateLog)
	_, err := s.DB.Exec(ctx, `
		INSERT INTO outbound_attempts
			(id, lead_id, tenant_id, body, category, provenance, operator_id,
			 status, hold_reason, provider, provider_msg_id, last_error, gate_log, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, in.ID, in.LeadID, in.TenantID, in.Body, in.Category, in.Provenance,
		nullIfEmpty(in.OperatorID), in.Status, nullIfEmpty(in.HoldReason),
		nullIfEmpty(in.Provider), nullIfEmpty(in.ProviderMsgID), nullIfEmpty(in.LastError),
		logB, in.Now)
	return err
}

func (s *Store) GetAttempt(ctx context.Context, attemptID string) (store.Attempt, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, lead_id, tenant_id, body, category, provenance, COALESCE(operator_id,''),
		       status, COALESCE(hold_reason,''), COALESCE(provider,''), COALESCE(provider_msg_id,''),
		       COALESCE(last_error,''), gate_log, created_at
		FROM outbound_attempts WHERE id=$1
	`, attemptID)

	var a store.Attempt
	err := row.Scan(&a.ID, &a.LeadID, &a.TenantID, &a.Body, &a.Category, &a.Provenance,
		&a.OperatorID, &a.Status, &a.HoldReason, &a.Provider, &a.ProviderMsgID,
		&a.LastError, &a.GateLogJSON, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Attempt{}, false, nil
		}
		return store.Attempt{}, false, err
	}
	return a, true, nil
}

// CountLeadAttemptsSince counts dispatched (non-held, non-failed) attempts for
// the lead newer than since. This feeds the rolling region cap.
func (s *Store) CountLeadAttemptsSince(ctx context.Context, leadID string, since time.Time) (int, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbound_attempts
		WHERE lead_id=$1 AND created_at > $2 AND status NOT IN ('held','failed')
	`, leadID, since)
	var n int
	err := row.Scan(&n)
	return n, err
}

// CountLeadSends is the monotonic send-count hint the occasional footer
// policy keys off.
func (s *Store) CountLeadSends(ctx context.Context, leadID string) (int, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbound_attempts
		WHERE lead_id=$1 AND status NOT IN ('held','failed')
	`, leadID)
	var n int
	err := row.Scan(&n)
	return n, err
}

func (s *Store) CountTenantSendsSince(ctx context.Context, tenantID string, category string, since time.Time) (int, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbound_attempts
		WHERE tenant_id=$1 AND category=$2 AND created_at > $3 AND status NOT IN ('held','failed')
	`, tenantID, category, since)
	var n int
	err := row.Scan(&n)
	return n, err
}

// RecentMessages returns the lead's bounded two-direction history for the
// classifier: the newest limit dispatched outbound attempts plus the newest
// limit inbound messages.
func (s *Store) RecentMessages(ctx context.Context, leadID string, limit int) ([]conversation.Message, error) {
	rows, err := s.DB.Query(ctx, `
		(SELECT 'outbound', body, COALESCE(intent_tag,''), created_at
		 FROM outbound_attempts
		 WHERE lead_id=$1 AND status NOT IN ('held','failed')
		 ORDER BY created_at DESC LIMIT $2)
		UNION ALL
		(SELECT 'inbound', body, '', received_at
		 FROM inbound_messages
		 WHERE lead_id=$1
		 ORDER BY received_at DESC LIMIT $2)
	`, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []conversation.Message
	for rows.Next() {
		var dir string
		var m conversation.Message
		if err := rows.Scan(&dir, &m.Body, &m.IntentTag, &m.SentAt); err != nil {
			return nil, err
		}
		m.Direction = conversation.Direction(dir)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) LatestInboundBody(ctx context.Context, leadID string) (string, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT body FROM inbound_messages WHERE lead_id=$1 ORDER BY received_at DESC LIMIT 1
	`, leadID)
	var body string
	err := row.Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return body, true, nil
}

func (s *Store) InsertInboundMessage(ctx context.Context, in store.InboundInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO inbound_messages (lead_id, tenant_id, phone, body, received_at)
		VALUES ($1,$2,$3,$4,$5)
	`, in.LeadID, in.TenantID, in.Phone, in.Body, in.Now)
	return err
}

// InsertCursor enrolls a lead, refusing while another live cursor exists for
// it. Returns false when enrollment was skipped.
func (s *Store) InsertCursor(ctx context.Context, in store.CursorInsert) (bool, error) {
	plan, err := json.Marshal(in.Plan)
	if err != nil {
		return false, err
	}
	tag, err := s.DB.Exec(ctx, `
		INSERT INTO followup_cursors (id, lead_id, tenant_id, attempt, plan, max_attempts, next_at, status, created_at, updated_at)
		SELECT $1, $2, $3, 0, $4, $5, $6, $7, $8, $8
		WHERE NOT EXISTS (
			SELECT 1 FROM followup_cursors WHERE lead_id=$2 AND status IN ($7, $9)
		)
	`, in.ID, in.LeadID, in.TenantID, plan, in.MaxAttempts, in.NextAt,
		store.CursorActive, in.Now, store.CursorProcessing)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DueCursors(ctx context.Context, now time.Time, limit int) ([]store.Cursor, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, lead_id, tenant_id, attempt, plan, max_attempts, next_at, status, updated_at
		FROM followup_cursors
		WHERE status=$1 AND next_at <= $2
		ORDER BY next_at ASC
		LIMIT $3
	`, store.CursorActive, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Cursor
	for rows.Next() {
		var c store.Cursor
		var plan []byte
		if err := rows.Scan(&c.ID, &c.LeadID, &c.TenantID, &c.Attempt, &plan,
			&c.MaxAttempts, &c.NextAt, &c.Status, &c.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(plan, &c.Plan)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClaimCursors flips the given cursors to processing in one conditional bulk
// update. Only cursors still active (or processing but stale, from a crashed
// tick) are claimed; the returned ids are the winner's set. This is the sole
// mutual-exclusion primitive between concurrent ticks.
func (s *Store) ClaimCursors(ctx context.Context, ids []string, now time.Time, staleAfter time.Duration) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	staleBefore := now.Add(-staleAfter)
	rows, err := s.DB.Query(ctx, `
		UPDATE followup_cursors
		SET status=$2, updated_at=$3
		WHERE id = ANY($1)
		  AND (status=$4 OR (status=$2 AND updated_at < $5))
		RETURNING id
	`, ids, store.CursorProcessing, now, store.CursorActive, staleBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claimed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		claimed = append(claimed, id)
	}
	return claimed, rows.Err()
}

func (s *Store) UpdateCursor(ctx context.Context, in store.CursorUpdate) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE followup_cursors SET status=$2, attempt=$3, next_at=$4, updated_at=$5 WHERE id=$1
	`, in.ID, in.Status, in.Attempt, in.NextAt, in.Now)
	return err
}

// ReleaseCursor puts a processing cursor back to active without touching
// attempt or next_at, so the next tick retries under unchanged conditions.
func (s *Store) ReleaseCursor(ctx context.Context, cursorID string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE followup_cursors SET status=$2, updated_at=$3 WHERE id=$1 AND status=$4
	`, cursorID, store.CursorActive, now, store.CursorProcessing)
	return err
}

func (s *Store) InsertFollowupLog(ctx context.Context, in store.FollowupLogInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO followup_logs (cursor_id, lead_id, attempt, planned_at, outcome, reason, provider_msg_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, in.CursorID, in.LeadID, in.Attempt, in.PlannedAt, in.Outcome,
		nullIfEmpty(in.Reason), nullIfEmpty(in.ProviderMsgID), in.Now)
	return err
}

// ReminderCandidates returns, per lead of the tenant, the newest dispatched
// outbound attempt newer than since, with the lead's inbound recency.
func (s *Store) ReminderCandidates(ctx context.Context, tenantID string, since time.Time) ([]store.ReminderCandidate, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT l.id, l.tenant_id, l.phone, MAX(a.created_at), l.last_inbound_at
		FROM leads l
		JOIN outbound_attempts a ON a.lead_id = l.id
		WHERE l.tenant_id=$1
		  AND NOT l.opted_out
		  AND a.status NOT IN ('held','failed')
		  AND a.created_at > $2
		GROUP BY l.id, l.tenant_id, l.phone, l.last_inbound_at
	`, tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ReminderCandidate
	for rows.Next() {
		var c store.ReminderCandidate
		if err := rows.Scan(&c.LeadID, &c.TenantID, &c.Phone, &c.LastOutboundAt, &c.LastInboundAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReminderHistory reports how many reminder-category sends the lead received
// after sinceInbound (all of them when sinceInbound is nil), and when the
// newest one went out.
func (s *Store) ReminderHistory(ctx context.Context, leadID string, sinceInbound *time.Time) (int, *time.Time, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT COUNT(*), MAX(created_at) FROM outbound_attempts
		WHERE lead_id=$1 AND category='reminder' AND status NOT IN ('held','failed')
		  AND ($2::timestamptz IS NULL OR created_at > $2)
	`, leadID, sinceInbound)
	var n int
	var newest *time.Time
	if err := row.Scan(&n, &newest); err != nil {
		return 0, nil, err
	}
	return n, newest, nil
}

func (s *Store) InsertDeliveryEvent(ctx context.Context, in store.DeliveryEvent) error {
	b, _ := json.Marshal(in.Payload)
	_, err := s.DB.Exec(ctx, `
		INSERT INTO delivery_events (provider, provider_msg_id, vendor_status, error_code, payload_json, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, in.Provider, in.ProviderMsgID, in.VendorStatus, nullIfEmpty(in.ErrorCode), b, in.OccurredAt)
	return err
}

// UpdateAttemptByProviderMsgID advances the provider status of the attempt a
// carrier callback refers to. Returns false when no row matched: either no
// attempt carries that id yet (the caller can let the event redrive) or a
// non-terminal update hit a row already in a terminal status.
func (s *Store) UpdateAttemptByProviderMsgID(ctx context.Context, in store.ProviderMsgUpdate) (bool, error) {
	q := `
		UPDATE outbound_attempts
		SET status=$3, last_error=$4
		WHERE provider=$1 AND provider_msg_id=$2
	`
	if !in.Terminal {
		q += ` AND status IN ('queued','sent')`
	}
	ct, err := s.DB.Exec(ctx, q, in.Provider, in.ProviderMsgID, in.NewStatus, nullIfEmpty(in.LastError))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
