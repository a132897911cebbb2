package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"testing"
)

func sign(authToken, fullURL string, form url.Values) string {
	// reference implementation: URL + sorted key/value pairs
	payload := fullURL
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	for _, k := range keys {
		payload += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	token := "secret-token"
	fullURL := "https://example.com/v1/webhooks/twilio/status"
	form := url.Values{
		"MessageSid":    {"SM123"},
		"MessageStatus": {"delivered"},
		"To":            {"+15551234567"},
	}

	good := sign(token, fullURL, form)
	if !VerifySignature(token, fullURL, good, form) {
		t.Fatal("valid signature rejected")
	}
	if VerifySignature(token, fullURL, "bogus", form) {
		t.Fatal("bogus signature accepted")
	}
	if VerifySignature("other-token", fullURL, good, form) {
		t.Fatal("signature from a different token accepted")
	}
	if VerifySignature(token, "https://example.com/other", good, form) {
		t.Fatal("signature for a different URL accepted")
	}

	tampered := url.Values{}
	for k, v := range form {
		tampered[k] = v
	}
	tampered.Set("MessageStatus", "failed")
	if VerifySignature(token, fullURL, good, tampered) {
		t.Fatal("tampered form accepted")
	}
}
