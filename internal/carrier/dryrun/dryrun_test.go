package dryrun

import (
	"context"
	"testing"

	"followup/internal/carrier"
)

func TestSendDeterministic(t *testing.T) {
	s := Sender{}
	req := carrier.SendRequest{To: "+15551234567", Body: "hello"}

	resp1, status, _, err := s.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if status != 201 || resp1.Status != "queued" {
		t.Fatalf("status=%d resp=%+v", status, resp1)
	}

	resp2, _, _, _ := s.Send(context.Background(), req)
	if resp1.ProviderMsgID != resp2.ProviderMsgID {
		t.Fatalf("same request must yield the same provider id: %q vs %q", resp1.ProviderMsgID, resp2.ProviderMsgID)
	}

	resp3, _, _, _ := s.Send(context.Background(), carrier.SendRequest{To: "+15551234567", Body: "other"})
	if resp3.ProviderMsgID == resp1.ProviderMsgID {
		t.Fatal("different bodies must yield different provider ids")
	}
}
