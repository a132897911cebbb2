package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"followup/internal/conversation"
	"followup/internal/domain"
	"followup/internal/gate"
	"followup/internal/store"
	"followup/internal/util"

	"github.com/gorilla/mux"
)

type APIStore interface {
	GetLead(ctx context.Context, leadID string) (store.Lead, bool, error)
	RecentMessages(ctx context.Context, leadID string, limit int) ([]conversation.Message, error)
	GetAttempt(ctx context.Context, attemptID string) (store.Attempt, bool, error)
	InsertCursor(ctx context.Context, in store.CursorInsert) (bool, error)
}

// Submitter is the send gate as the API sees it.
type Submitter interface {
	Submit(ctx context.Context, req domain.SubmitRequest) domain.GateResult
}

type API struct {
	Gate  Submitter
	Store APIStore
}

func (a *API) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/sends", a.handleSubmitSend).Methods(http.MethodPost)
	mux.HandleFunc("/v1/leads/{id}/conversation", a.handleGetConversation).Methods(http.MethodGet)
	mux.HandleFunc("/v1/attempts/{id}", a.handleGetAttempt).Methods(http.MethodGet)
	mux.HandleFunc("/v1/leads/{id}/cadence", a.handleEnrollCadence).Methods(http.MethodPost)
}

type enrollRequest struct {
	Plan           []int `json:"plan"`
	MaxAttempts    int   `json:"maxAttempts"`
	StartAfterDays int   `json:"startAfterDays"`
}

func (a *API) handleSubmitSend(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := a.Gate.Submit(r.Context(), req)

	status := http.StatusOK
	if result.Outcome == domain.OutcomeHeld && result.Reason == domain.HoldAccountPaused {
		// A paused account is an operator-side lock, not a policy verdict on
		// this particular message.
		status = http.StatusLocked
	}
	if result.Outcome == domain.OutcomeFailed {
		if result.Detail == domain.FailureTooLongWithFooter {
			status = http.StatusUnprocessableEntity
		} else {
			status = http.StatusBadGateway
		}
		slog.Error("send submit failed",
			"tenant_id", req.TenantID,
			"lead_id", req.LeadID,
			"category", req.Category,
			"detail", result.Detail,
		)
	}

	respondJSON(w, status, result)
}

func (a *API) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingLeadID, http.StatusBadRequest)
		return
	}

	lead, found, err := a.Store.GetLead(r.Context(), id)
	if err != nil {
		slog.Error("get lead failed", "err", err, "lead_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrLeadNotFound, http.StatusNotFound)
		return
	}

	history, err := a.Store.RecentMessages(r.Context(), id, gate.HistoryLimit)
	if err != nil {
		slog.Error("recent messages failed", "err", err, "lead_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	state := conversation.Classify(history, lead.OptedOut, util.NowUTC())

	respondJSON(w, http.StatusOK, state)
}

func (a *API) handleEnrollCadence(w http.ResponseWriter, r *http.Request) {
	leadID := mux.Vars(r)["id"]
	if leadID == "" {
		http.Error(w, ErrMissingLeadID, http.StatusBadRequest)
		return
	}
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if len(req.Plan) == 0 || req.MaxAttempts <= 0 {
		http.Error(w, ErrEnrollmentParams, http.StatusBadRequest)
		return
	}

	lead, found, err := a.Store.GetLead(r.Context(), leadID)
	if err != nil {
		slog.Error("get lead failed", "err", err, "lead_id", leadID)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrLeadNotFound, http.StatusNotFound)
		return
	}

	now := util.NowUTC()
	cursorID := util.NewCursorID()
	created, err := a.Store.InsertCursor(r.Context(), store.CursorInsert{
		ID:          cursorID,
		LeadID:      leadID,
		TenantID:    lead.TenantID,
		Plan:        req.Plan,
		MaxAttempts: req.MaxAttempts,
		NextAt:      now.Add(time.Duration(req.StartAfterDays) * 24 * time.Hour),
		Now:         now,
	})
	if err != nil {
		slog.Error("enroll cadence failed", "err", err, "lead_id", leadID)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !created {
		http.Error(w, ErrAlreadyEnrolled, http.StatusConflict)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"cursorId": cursorID})
}

func (a *API) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingAttemptID, http.StatusBadRequest)
		return
	}
	att, found, err := a.Store.GetAttempt(r.Context(), id)
	if err != nil {
		slog.Error("get attempt failed", "err", err, "attempt_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrAttemptNotFound, http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, att)
}
