package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "followup_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	GateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "followup_gate_decisions_total", Help: "Send gate outcomes"},
		[]string{"outcome", "reason"},
	)
	CarrierSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "followup_carrier_send_total", Help: "Carrier dispatch outcomes"},
		[]string{"provider", "result", "http_status"},
	)
	CarrierLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "followup_carrier_send_latency_seconds", Help: "Carrier dispatch latency"},
	)
	CadenceCursors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "followup_cadence_cursors_total", Help: "Cadence cursor tick outcomes"},
		[]string{"outcome"},
	)
	ReminderRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "followup_reminder_runs_total", Help: "Reminder batch runs"},
		[]string{"result"},
	)
	DraftRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "followup_draft_requests_total", Help: "Draft generator calls"},
		[]string{"result"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "followup_webhook_events_total", Help: "Carrier callback events"},
		[]string{"kind", "status"},
	)
	BookkeepingFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "followup_bookkeeping_failures_total", Help: "Audit writes lost after a successful dispatch"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, GateDecisions, CarrierSend, CarrierLatency,
		CadenceCursors, ReminderRuns, DraftRequests, WebhookEvents, BookkeepingFailures)
}
