package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/intakeline/intakeline/internal/storage"
)

const maxFirmBodySize = 64 << 10 // 64KB

// callView is the management API's JSON shape for a call record.
type callView struct {
	ID             string            `json:"id"`
	ProviderCallID string            `json:"provider_call_id,omitempty"`
	FirmID         string            `json:"firm_id,omitempty"`
	FromNumber     string            `json:"from_number,omitempty"`
	ToNumber       string            `json:"to_number,omitempty"`
	Status         string            `json:"status"`
	Urgency        string            `json:"urgency,omitempty"`
	HandledBy      string            `json:"handled_by,omitempty"`
	Intake         map[string]string `json:"intake,omitempty"`
	Summary        json.RawMessage   `json:"summary,omitempty"`
	Transcript     string            `json:"transcript,omitempty"`
	RecordingURL   string            `json:"recording_url,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	StartedAt      string            `json:"started_at,omitempty"`
	EndedAt        string            `json:"ended_at,omitempty"`
}

func toCallView(rec storage.CallRecord, includeTranscript bool) callView {
	v := callView{
		ID:             rec.ID,
		ProviderCallID: rec.ProviderCallID,
		FirmID:         rec.FirmID,
		FromNumber:     rec.FromNumber,
		ToNumber:       rec.ToNumber,
		Status:         string(rec.Status),
		Urgency:        rec.Urgency,
		HandledBy:      rec.HandledBy,
		RecordingURL:   rec.RecordingURL,
		ErrorMessage:   rec.ErrorMessage,
	}
	if rec.IntakeJSON != "" {
		var intake map[string]string
		if err := json.Unmarshal([]byte(rec.IntakeJSON), &intake); err == nil {
			v.Intake = intake
		}
	}
	if rec.SummaryText != "" && json.Valid([]byte(rec.SummaryText)) {
		v.Summary = json.RawMessage(rec.SummaryText)
	}
	if includeTranscript {
		v.Transcript = rec.TranscriptText
	}
	if !rec.StartedAt.IsZero() {
		v.StartedAt = rec.StartedAt.UTC().Format(time.RFC3339)
	}
	if !rec.EndedAt.IsZero() {
		v.EndedAt = rec.EndedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func handleListCalls(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 20)
		if limit <= 0 || limit > 100 {
			limit = 20
		}
		offset := queryInt(r, "offset", 0)
		if offset < 0 {
			offset = 0
		}

		records, err := deps.Store.ListCalls(r.URL.Query().Get("firm_id"), limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing calls: %v", err)
			return
		}

		views := make([]callView, len(records))
		for i, rec := range records {
			views[i] = toCallView(rec, false)
		}
		writeJSON(w, http.StatusOK, map[string]any{"calls": views})
	}
}

func handleGetCall(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Store.GetCall(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "call not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading call: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toCallView(rec, true))
	}
}

func handleDeleteCall(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteCall(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "call not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting call: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// firmView is the management API's JSON shape for a firm.
type firmView struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	PhoneNumber   string   `json:"phone_number"`
	ForwardNumber string   `json:"forward_number,omitempty"`
	NotifyEmails  []string `json:"notify_emails,omitempty"`
	Timezone      string   `json:"timezone,omitempty"`
	BusinessOpen  int      `json:"business_open"`
	BusinessClose int      `json:"business_close"`
	AlwaysAI      bool     `json:"always_ai"`
}

func toFirmView(f storage.Firm) firmView {
	return firmView{
		ID:            f.ID,
		Name:          f.Name,
		PhoneNumber:   f.PhoneNumber,
		ForwardNumber: f.ForwardNumber,
		NotifyEmails:  f.Recipients(),
		Timezone:      f.Timezone,
		BusinessOpen:  f.BusinessOpen,
		BusinessClose: f.BusinessClose,
		AlwaysAI:      f.AlwaysAI,
	}
}

func handleListFirms(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		firms, err := deps.Store.ListFirms()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing firms: %v", err)
			return
		}
		views := make([]firmView, len(firms))
		for i, f := range firms {
			views[i] = toFirmView(f)
		}
		writeJSON(w, http.StatusOK, map[string]any{"firms": views})
	}
}

func handleGetFirm(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		firm, err := deps.Store.GetFirm(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "firm not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading firm: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toFirmView(firm))
	}
}

func handlePutFirm(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxFirmBodySize)
		defer r.Body.Close()

		var req firmView
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" || req.PhoneNumber == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name and phone_number are required")
			return
		}

		emails := "[]"
		if len(req.NotifyEmails) > 0 {
			b, err := json.Marshal(req.NotifyEmails)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid notify_emails: %v", err)
				return
			}
			emails = string(b)
		}

		firm := storage.Firm{
			ID:            chi.URLParam(r, "id"),
			Name:          req.Name,
			PhoneNumber:   req.PhoneNumber,
			ForwardNumber: req.ForwardNumber,
			NotifyEmails:  emails,
			Timezone:      req.Timezone,
			BusinessOpen:  req.BusinessOpen,
			BusinessClose: req.BusinessClose,
			AlwaysAI:      req.AlwaysAI,
		}
		if err := deps.Store.SaveFirm(firm); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving firm: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toFirmView(firm))
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
