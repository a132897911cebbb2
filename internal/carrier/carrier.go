// Package carrier defines the outbound SMS gateway capability. One
// implementation exists per provider; the gate is handed exactly one at
// construction so no provider-name branching leaks into business logic.
package carrier

import "context"

type SendRequest struct {
	To                string
	Body              string
	StatusCallbackURL string
}

type SendResponse struct {
	ProviderMsgID string
	Status        string // provider's initial status, usually "queued"
}

type Sender interface {
	Name() string
	// Send dispatches one message. The int is the transport HTTP status and
	// the raw bytes are the provider response, both kept for the audit log.
	Send(ctx context.Context, req SendRequest) (SendResponse, int, []byte, error)
}
