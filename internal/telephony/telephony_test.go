package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestGetRecording(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/Calls/CA123/Recordings.json") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC999" || pass != "tok" {
			t.Errorf("bad basic auth %q/%q", user, pass)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"recordings":[{"sid":"RE1","uri":"/2010-04-01/Accounts/AC999/Recordings/RE1.json","duration":"42"}]}`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("AC999", "tok", srv.URL)
	rec, err := c.GetRecording(context.Background(), "CA123")
	if err != nil {
		t.Fatalf("GetRecording: %v", err)
	}
	if rec.SID != "RE1" || rec.Duration != 42 {
		t.Fatalf("recording = %+v", rec)
	}
	if !strings.HasSuffix(rec.MediaURL, "/Recordings/RE1.mp3") {
		t.Fatalf("media url = %q", rec.MediaURL)
	}
}

func TestGetRecordingNoneYet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"recordings":[]}`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("AC999", "tok", srv.URL)
	_, err := c.GetRecording(context.Background(), "CA123")
	if !errors.Is(err, ErrNoRecording) {
		t.Fatalf("err = %v, want ErrNoRecording", err)
	}
}

func TestParseWebhook(t *testing.T) {
	form := url.Values{
		"CallSid":      {"CA123"},
		"From":         {"+15551234567"},
		"To":           {"+15559876543"},
		"CallStatus":   {"completed"},
		"SpeechResult": {"my name is Jane"},
	}
	r := httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	ev, err := ParseWebhook(r)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.CallSID != "CA123" || ev.SpeechResult != "my name is Jane" {
		t.Fatalf("event = %+v", ev)
	}
	if !ev.Ended() {
		t.Fatal("completed status should report Ended")
	}
}

func TestEnded(t *testing.T) {
	for status, want := range map[string]bool{
		"completed":   true,
		"no-answer":   true,
		"in-progress": false,
		"ringing":     false,
		"":            false,
	} {
		if got := (WebhookEvent{CallStatus: status}).Ended(); got != want {
			t.Errorf("Ended(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	form := url.Values{
		"CallSid": {"CA123"},
		"From":    {"+15551234567"},
	}
	r := httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := r.ParseForm(); err != nil {
		t.Fatal(err)
	}

	sig := ComputeSignature("tok", "https://example.com/webhooks/voice", r.PostForm)
	r.Header.Set("X-Twilio-Signature", sig)

	if !ValidSignature("tok", "https://example.com", r) {
		t.Fatal("valid signature rejected")
	}

	r.Header.Set("X-Twilio-Signature", "bogus")
	if ValidSignature("tok", "https://example.com", r) {
		t.Fatal("bogus signature accepted")
	}
}

func TestValidSignatureDisabledWithoutToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/voice", nil)
	if !ValidSignature("", "https://example.com", r) {
		t.Fatal("empty token should skip validation")
	}
}

func TestGatherSpeechRender(t *testing.T) {
	out, err := GatherSpeech("Could I get your full name, please?", "/webhooks/voice").Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{
		"<Response>",
		`input="speech"`,
		`action="/webhooks/voice"`,
		"Could I get your full name, please?",
		"<Redirect>/webhooks/voice</Redirect>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered response missing %q:\n%s", want, out)
		}
	}
}

func TestSayAndHangUpRender(t *testing.T) {
	out, err := SayAndHangUp("Goodbye.").Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "Goodbye.") || !strings.Contains(out, "<Hangup></Hangup>") {
		t.Fatalf("rendered response = %s", out)
	}
}

func TestForwardToRender(t *testing.T) {
	out, err := ForwardTo("+15550001111").Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "<Dial>+15550001111</Dial>") {
		t.Fatalf("rendered response = %s", out)
	}
}
