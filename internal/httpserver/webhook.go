package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"followup/internal/observability"
	sqsqueue "followup/internal/queue/sqs"
	"followup/internal/util"

	"github.com/gorilla/mux"
)

type EventQueue interface {
	Enqueue(ctx context.Context, ev sqsqueue.CallbackEvent) error
}

// Webhook terminates carrier callbacks at the edge: verify the signature,
// wrap the form into a CallbackEvent, enqueue. All DB work happens in the
// processor so a slow database never makes the carrier retry.
type Webhook struct {
	Queue           EventQueue
	VerifySignature func(authToken, fullURL, provided string, form url.Values) bool
	AuthToken       string
	StatusURL       string
	InboundURL      string
}

func (wh *Webhook) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/webhooks/twilio/status", wh.handleTwilioStatus).Methods(http.MethodPost)
	mux.HandleFunc("/v1/webhooks/twilio/inbound", wh.handleTwilioInbound).Methods(http.MethodPost)
}

func (wh *Webhook) handleTwilioStatus(rw http.ResponseWriter, r *http.Request) {
	if !wh.verified(rw, r, wh.StatusURL) {
		return
	}

	status := r.PostForm.Get("MessageStatus")
	observability.WebhookEvents.WithLabelValues(sqsqueue.KindStatus, status).Inc()

	ev := sqsqueue.CallbackEvent{
		Kind:          sqsqueue.KindStatus,
		Provider:      "twilio",
		ProviderMsgID: r.PostForm.Get("MessageSid"),
		Status:        status,
		ErrorCode:     r.PostForm.Get("ErrorCode"),
		ReceivedAt:    util.NowUTC(),
	}
	wh.enqueue(rw, r, ev)
}

func (wh *Webhook) handleTwilioInbound(rw http.ResponseWriter, r *http.Request) {
	if !wh.verified(rw, r, wh.InboundURL) {
		return
	}

	observability.WebhookEvents.WithLabelValues(sqsqueue.KindInbound, "received").Inc()

	ev := sqsqueue.CallbackEvent{
		Kind:          sqsqueue.KindInbound,
		Provider:      "twilio",
		ProviderMsgID: r.PostForm.Get("MessageSid"),
		From:          r.PostForm.Get("From"),
		Body:          r.PostForm.Get("Body"),
		ReceivedAt:    util.NowUTC(),
	}
	wh.enqueue(rw, r, ev)
}

func (wh *Webhook) verified(rw http.ResponseWriter, r *http.Request, publicURL string) bool {
	if err := r.ParseForm(); err != nil {
		http.Error(rw, ErrBadForm, http.StatusBadRequest)
		return false
	}
	if wh.VerifySignature == nil || !wh.VerifySignature(wh.AuthToken, publicURL, r.Header.Get("X-Twilio-Signature"), r.PostForm) {
		http.Error(rw, ErrInvalidSignature, http.StatusUnauthorized)
		return false
	}
	return true
}

func (wh *Webhook) enqueue(rw http.ResponseWriter, r *http.Request, ev sqsqueue.CallbackEvent) {
	if err := wh.Queue.Enqueue(r.Context(), ev); err != nil {
		slog.Error("webhook enqueue failed", "err", err, "kind", ev.Kind, "message_sid", ev.ProviderMsgID)
		http.Error(rw, ErrDependency, http.StatusInternalServerError)
		return
	}
	rw.WriteHeader(http.StatusOK)
}
