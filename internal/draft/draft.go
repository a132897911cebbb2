// Package draft wraps the external reply-drafting service behind a small
// capability interface. The gate and scheduler only ever see "produce text
// under a character cap".
package draft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"followup/internal/observability"
)

type Request struct {
	TenantID string `json:"tenantId"`
	Context  string `json:"context"`
	MaxChars int    `json:"maxChars"`
}

type Generator interface {
	// Draft returns candidate message text. Empty text with a nil error means
	// the service declined to draft; callers skip, they do not fail.
	Draft(ctx context.Context, req Request) (string, error)
}

type HTTPGenerator struct {
	BaseURL string
	HTTP    *http.Client
}

type draftResponse struct {
	Text string `json:"text"`
}

func (g *HTTPGenerator) Draft(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/drafts", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.HTTP.Do(httpReq)
	if err != nil {
		observability.DraftRequests.WithLabelValues("error").Inc()
		return "", err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.DraftRequests.WithLabelValues("error").Inc()
		return "", fmt.Errorf("draft service status %d", resp.StatusCode)
	}

	var out draftResponse
	if err := json.Unmarshal(b, &out); err != nil {
		observability.DraftRequests.WithLabelValues("error").Inc()
		return "", err
	}
	if out.Text == "" {
		observability.DraftRequests.WithLabelValues("empty").Inc()
		return "", nil
	}

	observability.DraftRequests.WithLabelValues("ok").Inc()
	if req.MaxChars > 0 && utf8.RuneCountInString(out.Text) > req.MaxChars {
		// The service overshot its cap; trim on a word boundary rather than
		// surface an oversized body to the gate.
		return trimToWords(out.Text, req.MaxChars), nil
	}
	return out.Text, nil
}

// Static always returns the same text, capped. Used in tests and as the
// generator of last resort when no draft service is configured.
type Static struct {
	Text string
}

func (s Static) Draft(_ context.Context, req Request) (string, error) {
	if req.MaxChars > 0 && utf8.RuneCountInString(s.Text) > req.MaxChars {
		return trimToWords(s.Text, req.MaxChars), nil
	}
	return s.Text, nil
}

// trimToWords cuts text to at most max runes, preferring the last word
// boundary so no word (or rune) is split mid-way.
func trimToWords(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	cut := runes[:max]
	for i := len(cut) - 1; i > 0; i-- {
		if cut[i] == ' ' {
			return string(cut[:i])
		}
	}
	return string(cut)
}
