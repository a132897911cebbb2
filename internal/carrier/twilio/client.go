package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"followup/internal/carrier"
)

// maxSendAttempts caps the rate-limit resubmit loop in Send.
const maxSendAttempts = 3

type Client struct {
	AccountSID string
	AuthToken  string
	HTTP       *http.Client

	MessagingServiceSID string
	FromNumber          string
	BaseURL             string
}

type apiResponse struct {
	Sid       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode *int   `json:"error_code"`
	Message   string `json:"message"`
}

func (c *Client) Name() string { return "twilio" }

func (c *Client) Send(ctx context.Context, req carrier.SendRequest) (carrier.SendResponse, int, []byte, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("Body", req.Body)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
	}
	if c.MessagingServiceSID != "" {
		form.Set("MessagingServiceSid", c.MessagingServiceSID)
	} else {
		form.Set("From", c.FromNumber)
	}

	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	endpoint := baseURL + "/2010-04-01/Accounts/" + c.AccountSID + "/Messages.json"

	// A 429 is rejected before any message is created, so resubmitting is
	// safe. Everything else gets exactly one try.
	var resp *http.Response
	for attempt := 0; ; attempt++ {
		httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		httpReq.SetBasicAuth(c.AccountSID, c.AuthToken)

		var err error
		resp, err = c.HTTP.Do(httpReq)
		if err != nil {
			return carrier.SendResponse{}, 0, nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt >= maxSendAttempts-1 {
			break
		}
		resp.Body.Close()
		select {
		case <-ctx.Done():
			return carrier.SendResponse{}, http.StatusTooManyRequests, nil, ctx.Err()
		case <-time.After(Backoff(attempt)):
		}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out apiResponse
	_ = json.Unmarshal(b, &out)

	// Twilio returns 201 for created; treat any 2xx as accepted.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Message != "" {
			return carrier.SendResponse{}, resp.StatusCode, b, errors.New(out.Message)
		}
		return carrier.SendResponse{}, resp.StatusCode, b, errors.New("twilio send failed")
	}
	status := out.Status
	if status == "" {
		status = "queued"
	}
	return carrier.SendResponse{ProviderMsgID: out.Sid, Status: status}, resp.StatusCode, b, nil
}

// ShouldRetry classifies a send failure as transient (next tick may retry) or
// terminal.
func ShouldRetry(err error, httpStatus int) bool {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return true
		}
	}
	if httpStatus == 429 || httpStatus == 408 {
		return true
	}
	return httpStatus >= 500 && httpStatus <= 599
}

func Backoff(attempt int) time.Duration {
	base := []time.Duration{200 * time.Millisecond, 600 * time.Millisecond, 1400 * time.Millisecond}
	if attempt <= 0 {
		return base[0]
	}
	if attempt >= len(base) {
		return base[len(base)-1]
	}
	return base[attempt]
}
