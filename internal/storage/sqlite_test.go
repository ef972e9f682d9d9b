package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newCall(t *testing.T, s *Store, providerCallID string) CallRecord {
	t.Helper()
	c := CallRecord{
		ID:             uuid.New().String(),
		ProviderCallID: providerCallID,
		FirmID:         "firm-1",
		FromNumber:     "+14155550134",
		ToNumber:       "+14155550100",
		StartedAt:      time.Now().UTC(),
	}
	if err := s.CreateCall(c); err != nil {
		t.Fatalf("CreateCall failed: %v", err)
	}
	return c
}

func TestCreateAndGetCall(t *testing.T) {
	s := openTestStore(t)
	c := newCall(t, s, "CA100")

	got, err := s.GetCall(c.ID)
	if err != nil {
		t.Fatalf("GetCall failed: %v", err)
	}
	if got.Status != StatusInProgress {
		t.Errorf("status = %q, want in_progress", got.Status)
	}
	if got.IntakeJSON != "{}" {
		t.Errorf("intake_json = %q, want {}", got.IntakeJSON)
	}
	if got.HandledBy != "ai" {
		t.Errorf("handled_by = %q, want ai", got.HandledBy)
	}

	byProvider, err := s.GetCallByProviderID("CA100")
	if err != nil {
		t.Fatalf("GetCallByProviderID failed: %v", err)
	}
	if byProvider.ID != c.ID {
		t.Errorf("provider lookup returned %q, want %q", byProvider.ID, c.ID)
	}
}

func TestGetCallNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetCall("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetCall(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetCallByConversationID("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetCallByConversationID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestClaimStatus(t *testing.T) {
	s := openTestStore(t)
	c := newCall(t, s, "CA200")

	claimed, err := s.ClaimStatus(c.ID, []CallStatus{StatusInProgress, StatusError}, StatusTranscribing)
	if err != nil {
		t.Fatalf("ClaimStatus failed: %v", err)
	}
	if !claimed {
		t.Fatal("first claim should succeed")
	}

	// A second identical claim must lose: the record left in_progress.
	claimed, err = s.ClaimStatus(c.ID, []CallStatus{StatusInProgress, StatusError}, StatusTranscribing)
	if err != nil {
		t.Fatalf("ClaimStatus failed: %v", err)
	}
	if claimed {
		t.Error("duplicate claim should fail")
	}

	got, _ := s.GetCall(c.ID)
	if got.Status != StatusTranscribing {
		t.Errorf("status = %q, want transcribing", got.Status)
	}
}

func TestClaimStatusFromError(t *testing.T) {
	s := openTestStore(t)
	c := newCall(t, s, "CA201")

	if err := s.MarkError(c.ID, "email bounced"); err != nil {
		t.Fatalf("MarkError failed: %v", err)
	}
	got, _ := s.GetCall(c.ID)
	if got.Status != StatusError || got.ErrorMessage != "email bounced" {
		t.Fatalf("record = %q/%q, want error/email bounced", got.Status, got.ErrorMessage)
	}

	// The re-drive edge: error -> transcribing.
	claimed, err := s.ClaimStatus(c.ID, []CallStatus{StatusError}, StatusTranscribing)
	if err != nil {
		t.Fatalf("ClaimStatus failed: %v", err)
	}
	if !claimed {
		t.Error("claim from error should succeed")
	}
}

func TestSettersUpdateRecord(t *testing.T) {
	s := openTestStore(t)
	c := newCall(t, s, "CA300")

	if err := s.SetTranscript(c.ID, "caller: hi"); err != nil {
		t.Fatalf("SetTranscript failed: %v", err)
	}
	if err := s.SetIntake(c.ID, `{"full_name":"John Doe"}`); err != nil {
		t.Fatalf("SetIntake failed: %v", err)
	}
	if err := s.SetSummary(c.ID, "Slip and fall inquiry.", "high"); err != nil {
		t.Fatalf("SetSummary failed: %v", err)
	}
	if err := s.SetRecordingURL(c.ID, "https://recordings.example/CA300"); err != nil {
		t.Fatalf("SetRecordingURL failed: %v", err)
	}
	if err := s.SetConversationID(c.ID, "conv-9"); err != nil {
		t.Fatalf("SetConversationID failed: %v", err)
	}

	got, err := s.GetCallByConversationID("conv-9")
	if err != nil {
		t.Fatalf("GetCallByConversationID failed: %v", err)
	}
	if got.TranscriptText != "caller: hi" {
		t.Errorf("transcript = %q", got.TranscriptText)
	}
	if got.SummaryText != "Slip and fall inquiry." || got.Urgency != "high" {
		t.Errorf("summary/urgency = %q/%q", got.SummaryText, got.Urgency)
	}
	if got.RecordingURL == "" {
		t.Error("recording URL not stored")
	}
}

func TestSetTranscriptNotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetTranscript("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetTranscript(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFindStale(t *testing.T) {
	s := openTestStore(t)
	stuck := newCall(t, s, "CA400")
	fresh := newCall(t, s, "CA401")

	if _, err := s.ClaimStatus(stuck.ID, []CallStatus{StatusInProgress}, StatusSummarizing); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimStatus(fresh.ID, []CallStatus{StatusInProgress}, StatusSummarizing); err != nil {
		t.Fatal(err)
	}

	// Backdate the stuck record six minutes.
	old := time.Now().UTC().Add(-6 * time.Minute).Format(time.RFC3339)
	if _, err := s.db.Exec("UPDATE call_records SET updated_at = ? WHERE id = ?", old, stuck.ID); err != nil {
		t.Fatal(err)
	}

	stale, err := s.FindStale([]CallStatus{StatusTranscribing, StatusSummarizing}, time.Now().Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("FindStale failed: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("FindStale returned %d records, want 1", len(stale))
	}
	if stale[0].ID != stuck.ID {
		t.Errorf("stale record = %q, want %q", stale[0].ID, stuck.ID)
	}
}

func TestListAndDeleteCalls(t *testing.T) {
	s := openTestStore(t)
	a := newCall(t, s, "CA500")
	newCall(t, s, "CA501")

	calls, err := s.ListCalls("firm-1", 10, 0)
	if err != nil {
		t.Fatalf("ListCalls failed: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("ListCalls returned %d, want 2", len(calls))
	}

	n, err := s.CountCalls()
	if err != nil || n != 2 {
		t.Fatalf("CountCalls = %d, %v; want 2", n, err)
	}

	if err := s.DeleteCall(a.ID); err != nil {
		t.Fatalf("DeleteCall failed: %v", err)
	}
	if err := s.DeleteCall(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteCall error = %v, want ErrNotFound", err)
	}
}

func TestFirmRoundTrip(t *testing.T) {
	s := openTestStore(t)
	f := Firm{
		ID:            "firm-1",
		Name:          "Harbor & Lane",
		PhoneNumber:   "+14155550100",
		ForwardNumber: "+14155550111",
		NotifyEmails:  `["intake@harborlane.example"]`,
		Timezone:      "America/Chicago",
		BusinessOpen:  9,
		BusinessClose: 17,
	}
	if err := s.SaveFirm(f); err != nil {
		t.Fatalf("SaveFirm failed: %v", err)
	}

	got, err := s.GetFirmByNumber("+14155550100")
	if err != nil {
		t.Fatalf("GetFirmByNumber failed: %v", err)
	}
	if got.Name != "Harbor & Lane" {
		t.Errorf("name = %q", got.Name)
	}

	// Upsert updates in place.
	f.Name = "Harbor, Lane & Proctor"
	if err := s.SaveFirm(f); err != nil {
		t.Fatalf("SaveFirm (update) failed: %v", err)
	}
	firms, err := s.ListFirms()
	if err != nil {
		t.Fatalf("ListFirms failed: %v", err)
	}
	if len(firms) != 1 || firms[0].Name != "Harbor, Lane & Proctor" {
		t.Errorf("ListFirms = %+v, want single updated firm", firms)
	}
}

func TestFirmOpenNow(t *testing.T) {
	f := Firm{Timezone: "UTC", BusinessOpen: 9, BusinessClose: 17}

	day := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	night := time.Date(2025, 3, 3, 22, 0, 0, 0, time.UTC)
	if !f.OpenNow(day) {
		t.Error("noon should be within 9-17")
	}
	if f.OpenNow(night) {
		t.Error("22:00 should be outside 9-17")
	}

	overnight := Firm{Timezone: "UTC", BusinessOpen: 22, BusinessClose: 6}
	if !overnight.OpenNow(night) {
		t.Error("22:00 should be within 22-6")
	}
	if overnight.OpenNow(day) {
		t.Error("noon should be outside 22-6")
	}

	closed := Firm{Timezone: "UTC", BusinessOpen: 9, BusinessClose: 9}
	if closed.OpenNow(day) {
		t.Error("equal open/close means never open")
	}
}
