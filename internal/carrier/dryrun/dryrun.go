// Package dryrun is the deterministic no-network carrier used outside
// production. It accepts every message and synthesizes a stable provider id
// from the request, so repeated evaluation of the same send is reproducible.
package dryrun

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"

	"followup/internal/carrier"
)

type Sender struct{}

func (Sender) Name() string { return "dryrun" }

func (Sender) Send(_ context.Context, req carrier.SendRequest) (carrier.SendResponse, int, []byte, error) {
	sum := sha1.Sum([]byte(req.To + "\x00" + req.Body))
	id := "DR" + hex.EncodeToString(sum[:])[:16]
	return carrier.SendResponse{ProviderMsgID: id, Status: "queued"}, http.StatusCreated, []byte(`{"status":"queued"}`), nil
}
