package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/intakeline/intakeline/internal/storage"
)

func seedCall(t *testing.T, store *storage.Store, id, firmID string) storage.CallRecord {
	t.Helper()
	rec := storage.CallRecord{
		ID:             id,
		ProviderCallID: "CA-" + id,
		FirmID:         firmID,
		FromNumber:     "+15551234567",
		ToNumber:       "+15559876543",
	}
	if err := store.CreateCall(rec); err != nil {
		t.Fatalf("seeding call: %v", err)
	}
	got, err := store.GetCall(id)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func authedRequest(method, path, token string) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestCallsRequireBearerToken(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	handler := NewHandler(deps)

	for _, path := range []string{"/calls", "/calls/abc", "/firms"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authedRequest(http.MethodGet, path, ""))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s without token: status = %d", path, w.Code)
		}

		w = httptest.NewRecorder()
		handler.ServeHTTP(w, authedRequest(http.MethodGet, path, "wrong-token"))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s with bad token: status = %d", path, w.Code)
		}
	}
}

func TestListCalls(t *testing.T) {
	deps, _, store := newTestDeps(t)
	seedCall(t, store, "call-1", "firm-1")
	seedCall(t, store, "call-2", "firm-2")
	handler := NewHandler(deps)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, "/calls", "mgmt-token"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Calls []map[string]any `json:"calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Calls) != 2 {
		t.Fatalf("got %d calls", len(resp.Calls))
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, "/calls?firm_id=firm-1", "mgmt-token"))
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Calls) != 1 || resp.Calls[0]["id"] != "call-1" {
		t.Fatalf("filtered calls = %v", resp.Calls)
	}
}

func TestGetCallIncludesTranscript(t *testing.T) {
	deps, _, store := newTestDeps(t)
	seedCall(t, store, "call-1", "firm-1")
	if err := store.SetTranscript("call-1", "caller: hello\nagent: hi"); err != nil {
		t.Fatal(err)
	}
	handler := NewHandler(deps)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, "/calls/call-1", "mgmt-token"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var view map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view["transcript"] != "caller: hello\nagent: hi" {
		t.Fatalf("transcript = %v", view["transcript"])
	}
}

func TestGetCallNotFound(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	handler := NewHandler(deps)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, "/calls/missing", "mgmt-token"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not_found_error") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestDeleteCall(t *testing.T) {
	deps, _, store := newTestDeps(t)
	seedCall(t, store, "call-1", "firm-1")
	handler := NewHandler(deps)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodDelete, "/calls/call-1", "mgmt-token"))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if _, err := store.GetCall("call-1"); err != storage.ErrNotFound {
		t.Fatalf("record still present: %v", err)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodDelete, "/calls/call-1", "mgmt-token"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", w.Code)
	}
}

func TestFirmPutAndGet(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	handler := NewHandler(deps)

	body := `{
		"name": "Harper & Lowe",
		"phone_number": "+15559876543",
		"forward_number": "+15550001111",
		"notify_emails": ["intake@harperlowe.example"],
		"timezone": "America/New_York",
		"business_open": 9,
		"business_close": 17
	}`
	r := httptest.NewRequest(http.MethodPut, "/firms/firm-1", strings.NewReader(body))
	r.Header.Set("Authorization", "Bearer mgmt-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, "/firms/firm-1", "mgmt-token"))
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var view struct {
		Name         string   `json:"name"`
		NotifyEmails []string `json:"notify_emails"`
		BusinessOpen int      `json:"business_open"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.Name != "Harper & Lowe" || view.BusinessOpen != 9 {
		t.Fatalf("view = %+v", view)
	}
	if len(view.NotifyEmails) != 1 || view.NotifyEmails[0] != "intake@harperlowe.example" {
		t.Fatalf("notify emails = %v", view.NotifyEmails)
	}
}

func TestFirmPutRejectsMissingFields(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	handler := NewHandler(deps)

	r := httptest.NewRequest(http.MethodPut, "/firms/firm-1", strings.NewReader(`{"name":"No Phone"}`))
	r.Header.Set("Authorization", "Bearer mgmt-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHealthIsOpen(t *testing.T) {
	deps, _, store := newTestDeps(t)
	seedCall(t, store, "call-1", "firm-1")
	handler := NewHandler(deps)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var health struct {
		Status         string `json:"status"`
		Calls          int    `json:"calls"`
		ActiveSessions int    `json:"active_sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.Calls != 1 {
		t.Fatalf("health = %+v", health)
	}
}
