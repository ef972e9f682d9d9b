package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/intakeline/intakeline/internal/finalize"
	"github.com/intakeline/intakeline/internal/script"
	"github.com/intakeline/intakeline/internal/session"
	"github.com/intakeline/intakeline/internal/storage"
	"github.com/intakeline/intakeline/internal/turn"
	"github.com/intakeline/intakeline/internal/watchdog"
)

// --- mocks ---

type mockTurns struct {
	processFn func(cs *session.CallSession, utterance string) turn.Result
}

func (m *mockTurns) Process(_ context.Context, cs *session.CallSession, utterance string) turn.Result {
	res := m.processFn(cs, utterance)
	cs.AppendAgent(res.Utterance)
	cs.State = res.NextState
	return res
}

type mockFinalizer struct {
	mu     sync.Mutex
	inputs []finalize.Input
	done   chan finalize.Input
}

func newMockFinalizer() *mockFinalizer {
	return &mockFinalizer{done: make(chan finalize.Input, 4)}
}

func (m *mockFinalizer) Finalize(_ context.Context, in finalize.Input) error {
	m.mu.Lock()
	m.inputs = append(m.inputs, in)
	m.mu.Unlock()
	m.done <- in
	return nil
}

func (m *mockFinalizer) wait(t *testing.T) finalize.Input {
	t.Helper()
	select {
	case in := <-m.done:
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("finalize never invoked")
		return finalize.Input{}
	}
}

type mockSweeper struct {
	result watchdog.Result
	err    error
}

func (m *mockSweeper) Sweep(context.Context) (watchdog.Result, error) {
	return m.result, m.err
}

type mockWarmer struct {
	mu    sync.Mutex
	warms []string
}

func (m *mockWarmer) Warm(callID string, turnNo int, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warms = append(m.warms, text)
}

// --- helpers ---

func newTestDeps(t *testing.T) (Deps, *mockFinalizer, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	fin := newMockFinalizer()
	deps := Deps{
		Store:    store,
		Sessions: session.NewStore(),
		Turns: &mockTurns{processFn: func(_ *session.CallSession, _ string) turn.Result {
			return turn.Result{
				Utterance: "Could I get your full name, please?",
				NextState: script.StateCollectName,
			}
		}},
		Finalizer:      fin,
		Watchdog:       &mockSweeper{result: watchdog.Result{Retriggered: 2, Failed: 1}},
		Token:          "mgmt-token",
		WatchdogSecret: "wd-secret",
		PublicURL:      "https://intake.example",
	}
	return deps, fin, store
}

func postForm(t *testing.T, handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func voiceForm(callSID, speech string) url.Values {
	return url.Values{
		"CallSid":      {callSID},
		"From":         {"+15551234567"},
		"To":           {"+15559876543"},
		"SpeechResult": {speech},
	}
}

// --- tests ---

func TestVoiceWebhookFirstTurn(t *testing.T) {
	deps, _, store := newTestDeps(t)
	handler := NewHandler(deps)

	w := postForm(t, handler, "/webhooks/voice", voiceForm("CA1", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/xml" {
		t.Fatalf("content type = %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Could I get your full name, please?") {
		t.Fatalf("response missing utterance:\n%s", body)
	}
	if !strings.Contains(body, `action="https://intake.example/webhooks/voice"`) {
		t.Fatalf("gather action missing:\n%s", body)
	}

	if _, ok := deps.Sessions.Get("CA1"); !ok {
		t.Fatal("no session created")
	}
	rec, err := store.GetCallByProviderID("CA1")
	if err != nil {
		t.Fatalf("no call record: %v", err)
	}
	if rec.Status != storage.StatusInProgress || rec.HandledBy != "ai" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestVoiceWebhookDoneHangsUpAndFinalizes(t *testing.T) {
	deps, fin, _ := newTestDeps(t)
	deps.Turns = &mockTurns{processFn: func(cs *session.CallSession, _ string) turn.Result {
		cs.Snapshot["full_name"] = "John Doe"
		return turn.Result{
			Utterance: script.ClosingScript("the firm"),
			NextState: script.StateClosing,
			Done:      true,
		}
	}}
	handler := NewHandler(deps)

	w := postForm(t, handler, "/webhooks/voice", voiceForm("CA2", "no, that's everything"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Hangup></Hangup>") {
		t.Fatalf("no hangup verb:\n%s", w.Body.String())
	}

	in := fin.wait(t)
	if in.ProviderCallID != "CA2" {
		t.Fatalf("finalize input = %+v", in)
	}
	if in.Snapshot["full_name"] != "John Doe" {
		t.Fatalf("snapshot not carried to finalize: %v", in.Snapshot)
	}
	if in.HistoryTranscript == "" {
		t.Fatal("history transcript missing")
	}
}

func TestVoiceWebhookForwardsDuringBusinessHours(t *testing.T) {
	deps, _, store := newTestDeps(t)
	if err := store.SaveFirm(storage.Firm{
		ID:            "firm-1",
		Name:          "Harper & Lowe",
		PhoneNumber:   "+15559876543",
		ForwardNumber: "+15550001111",
		Timezone:      "UTC",
		BusinessOpen:  0,
		BusinessClose: 23, // open almost always, so the test is time-independent
	}); err != nil {
		t.Fatal(err)
	}
	handler := NewHandler(deps)

	w := postForm(t, handler, "/webhooks/voice", voiceForm("CA3", ""))
	body := w.Body.String()
	if time.Now().UTC().Hour() == 23 {
		t.Skip("inside the test firm's closed hour")
	}
	if !strings.Contains(body, "<Dial>+15550001111</Dial>") {
		t.Fatalf("expected forward, got:\n%s", body)
	}
	if _, ok := deps.Sessions.Get("CA3"); ok {
		t.Fatal("session should not persist for forwarded call")
	}
	rec, err := store.GetCallByProviderID("CA3")
	if err != nil {
		t.Fatal(err)
	}
	if rec.HandledBy != "human" {
		t.Fatalf("handled_by = %q", rec.HandledBy)
	}
}

func TestVoiceWebhookAlwaysAISkipsForwarding(t *testing.T) {
	deps, _, store := newTestDeps(t)
	if err := store.SaveFirm(storage.Firm{
		ID:            "firm-1",
		Name:          "Harper & Lowe",
		PhoneNumber:   "+15559876543",
		ForwardNumber: "+15550001111",
		Timezone:      "UTC",
		BusinessOpen:  0,
		BusinessClose: 23,
		AlwaysAI:      true,
	}); err != nil {
		t.Fatal(err)
	}
	handler := NewHandler(deps)

	w := postForm(t, handler, "/webhooks/voice", voiceForm("CA4", ""))
	if strings.Contains(w.Body.String(), "<Dial>") {
		t.Fatalf("always-AI firm was forwarded:\n%s", w.Body.String())
	}
	cs, ok := deps.Sessions.Get("CA4")
	if !ok {
		t.Fatal("no session")
	}
	if cs.FirmName != "Harper & Lowe" {
		t.Fatalf("firm name = %q", cs.FirmName)
	}
}

func TestVoiceWebhookRequiresCallSid(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	handler := NewHandler(deps)

	w := postForm(t, handler, "/webhooks/voice", url.Values{"From": {"+15551234567"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestVoiceWebhookWarmsSpeech(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	warmer := &mockWarmer{}
	deps.Speech = warmer
	handler := NewHandler(deps)

	postForm(t, handler, "/webhooks/voice", voiceForm("CA5", ""))

	warmer.mu.Lock()
	defer warmer.mu.Unlock()
	if len(warmer.warms) != 1 || !strings.Contains(warmer.warms[0], "full name") {
		t.Fatalf("warms = %v", warmer.warms)
	}
}

func TestVoiceWebhookRejectsBadSignature(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	deps.TelephonyToken = "provider-secret"
	handler := NewHandler(deps)

	r := httptest.NewRequest(http.MethodPost, "/webhooks/voice",
		strings.NewReader(voiceForm("CA10", "").Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Twilio-Signature", "bogus")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestStatusWebhookTriggersFinalize(t *testing.T) {
	deps, fin, _ := newTestDeps(t)
	handler := NewHandler(deps)

	// Establish a session with some history first.
	postForm(t, handler, "/webhooks/voice", voiceForm("CA6", ""))

	form := url.Values{"CallSid": {"CA6"}, "CallStatus": {"completed"}}
	w := postForm(t, handler, "/webhooks/status", form)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}

	in := fin.wait(t)
	if in.ProviderCallID != "CA6" || in.HistoryTranscript == "" {
		t.Fatalf("finalize input = %+v", in)
	}
}

func TestStatusWebhookIgnoresNonTerminal(t *testing.T) {
	deps, fin, _ := newTestDeps(t)
	handler := NewHandler(deps)

	form := url.Values{"CallSid": {"CA7"}, "CallStatus": {"ringing"}}
	w := postForm(t, handler, "/webhooks/status", form)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	select {
	case in := <-fin.done:
		t.Fatalf("finalize invoked for non-terminal status: %+v", in)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAgentEventsWebhookFinalizes(t *testing.T) {
	deps, fin, _ := newTestDeps(t)
	handler := NewHandler(deps)

	body := `{
		"type": "call_ended",
		"call_sid": "CA8",
		"conversation_id": "conv-8",
		"from": "+15551234567",
		"transcript": "caller: hi\nagent: hello",
		"recording_url": "https://recordings.example/CA8.mp3",
		"data": {"full_name": "Jane Roe"}
	}`
	r := httptest.NewRequest(http.MethodPost, "/webhooks/agent-events", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	in := fin.wait(t)
	if in.ConversationID != "conv-8" || in.Transcript == "" {
		t.Fatalf("finalize input = %+v", in)
	}
	if in.Snapshot["full_name"] != "Jane Roe" {
		t.Fatalf("snapshot = %v", in.Snapshot)
	}
	if in.RecordingURL != "https://recordings.example/CA8.mp3" {
		t.Fatalf("recording url = %q", in.RecordingURL)
	}
}

func TestAgentEventsIgnoresOtherTypes(t *testing.T) {
	deps, fin, _ := newTestDeps(t)
	handler := NewHandler(deps)

	r := httptest.NewRequest(http.MethodPost, "/webhooks/agent-events",
		strings.NewReader(`{"type":"turn_completed","call_sid":"CA9"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	select {
	case in := <-fin.done:
		t.Fatalf("finalize invoked: %+v", in)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatchdogRunRequiresSecret(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	handler := NewHandler(deps)

	r := httptest.NewRequest(http.MethodPost, "/watchdog/run", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodPost, "/watchdog/run", nil)
	r.Header.Set("X-Intakeline-Secret", "wd-secret")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"retriggered":2`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}
