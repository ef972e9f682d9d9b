package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"sort"
	"strings"
)

// WebhookEvent is the parsed form payload of a provider webhook. All
// fields are optional; which ones arrive depends on the callback type.
type WebhookEvent struct {
	CallSID        string
	ConversationID string
	From           string
	To             string
	CallStatus     string
	SpeechResult   string
	RecordingURL   string
	Digits         string
}

// ParseWebhook reads the form-encoded provider callback from the request.
// The caller must have validated the signature first.
func ParseWebhook(r *http.Request) (WebhookEvent, error) {
	if err := r.ParseForm(); err != nil {
		return WebhookEvent{}, err
	}
	return WebhookEvent{
		CallSID:        r.PostForm.Get("CallSid"),
		ConversationID: r.PostForm.Get("ConversationSid"),
		From:           r.PostForm.Get("From"),
		To:             r.PostForm.Get("To"),
		CallStatus:     r.PostForm.Get("CallStatus"),
		SpeechResult:   r.PostForm.Get("SpeechResult"),
		RecordingURL:   r.PostForm.Get("RecordingUrl"),
		Digits:         r.PostForm.Get("Digits"),
	}, nil
}

// Ended reports whether the event signals a finished call.
func (e WebhookEvent) Ended() bool {
	switch e.CallStatus {
	case "completed", "busy", "failed", "no-answer", "canceled":
		return true
	}
	return false
}

// ComputeSignature derives the provider's request signature: HMAC-SHA1
// over the full callback URL concatenated with the sorted form parameters,
// base64 encoded.
func ComputeSignature(authToken, url string, form map[string][]string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(url)
	for _, k := range keys {
		for _, v := range form[k] {
			sb.WriteString(k)
			sb.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidSignature checks the X-Twilio-Signature header on an inbound
// webhook request. The request's form must already be parsed. An empty
// authToken disables validation (local development).
func ValidSignature(authToken, publicURL string, r *http.Request) bool {
	if authToken == "" {
		return true
	}
	got := r.Header.Get("X-Twilio-Signature")
	if got == "" {
		return false
	}
	want := ComputeSignature(authToken, publicURL+r.URL.Path, r.PostForm)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
