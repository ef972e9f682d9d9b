package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/intakeline/intakeline/internal/finalize"
	"github.com/intakeline/intakeline/internal/storage"
	"github.com/intakeline/intakeline/internal/telephony"
)

const (
	voiceWebhookPath     = "/webhooks/voice"
	maxAgentEventSize    = 1 << 20 // 1MB
	backgroundFinalizeTO = 2 * time.Minute
)

// handleVoice is the conversational loop: every caller utterance arrives
// here and leaves as a spoken response within the provider's deadline.
func handleVoice(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := telephony.ParseWebhook(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unreadable webhook: %v", err)
			return
		}
		if !telephony.ValidSignature(deps.TelephonyToken, deps.PublicURL, r) {
			httpError(w, http.StatusForbidden, "authentication_error", "bad webhook signature")
			return
		}
		if ev.CallSID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "missing CallSid")
			return
		}

		firm, haveFirm := lookupFirm(deps, ev.To)
		firmID, firmName := "", ""
		if haveFirm {
			firmID, firmName = firm.ID, firm.Name
		}

		cs, existed := deps.Sessions.GetOrCreate(ev.CallSID, firmID, firmName)
		if !existed {
			// Routing decision, once per call: during business hours a human
			// answers unless the firm opted into always-on AI intake.
			if haveFirm && !firm.AlwaysAI && firm.ForwardNumber != "" && firm.OpenNow(time.Now()) {
				deps.Sessions.Delete(ev.CallSID)
				ensureCallRecord(deps, ev, firmID, "human")
				respondXML(w, deps, telephony.ForwardTo(firm.ForwardNumber))
				return
			}
			ensureCallRecord(deps, ev, firmID, "ai")
		}

		res := deps.Turns.Process(r.Context(), cs, ev.SpeechResult)
		deps.Sessions.Touch(ev.CallSID)

		if deps.Speech != nil {
			deps.Speech.Warm(ev.CallSID, len(cs.History), res.Utterance)
		}

		if res.Done {
			// Finalize off the webhook path; the status callback is the
			// backstop if this invocation dies.
			go finalizeFromSession(deps, ev.CallSID)
			respondXML(w, deps, telephony.SayAndHangUp(res.Utterance))
			return
		}
		respondXML(w, deps, telephony.GatherSpeech(res.Utterance, deps.PublicURL+voiceWebhookPath))
	}
}

// handleStatus receives call-lifecycle callbacks. A terminal status
// triggers finalization; everything else is acknowledged and dropped.
func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := telephony.ParseWebhook(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unreadable webhook: %v", err)
			return
		}
		if !telephony.ValidSignature(deps.TelephonyToken, deps.PublicURL, r) {
			httpError(w, http.StatusForbidden, "authentication_error", "bad webhook signature")
			return
		}
		if !ev.Ended() || ev.CallSID == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if rec, err := deps.Store.GetCallByProviderID(ev.CallSID); err == nil && rec.HandledBy == "human" {
			// Forwarded calls have no intake to finalize.
			if rec.EndedAt.IsZero() {
				if serr := deps.Store.SetCallEnded(rec.ID, time.Now().UTC()); serr != nil {
					deps.logger().Error("recording call end failed", "call_id", rec.ID, "error", serr)
				}
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		go finalizeFromSession(deps, ev.CallSID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// agentEvent is the JSON body posted by an external voice-agent provider.
type agentEvent struct {
	Type           string            `json:"type"`
	CallSID        string            `json:"call_sid"`
	ConversationID string            `json:"conversation_id"`
	From           string            `json:"from"`
	To             string            `json:"to"`
	Transcript     string            `json:"transcript"`
	RecordingURL   string            `json:"recording_url"`
	Data           map[string]string `json:"data"`
}

// handleAgentEvents receives end-of-call events from an external
// voice-agent provider, a second completion source alongside the status
// callback. Finalize tolerates receiving both.
func handleAgentEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxAgentEventSize)
		defer r.Body.Close()

		var ev agentEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid event body: %v", err)
			return
		}
		if ev.Type != "call_ended" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if ev.CallSID == "" && ev.ConversationID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "event carries no call identifiers")
			return
		}

		in := finalize.Input{
			ProviderCallID: ev.CallSID,
			ConversationID: ev.ConversationID,
			FromNumber:     ev.From,
			ToNumber:       ev.To,
			Transcript:     ev.Transcript,
			RecordingURL:   ev.RecordingURL,
			Snapshot:       ev.Data,
		}
		if firm, ok := lookupFirm(deps, ev.To); ok {
			in.FirmID = firm.ID
		}
		enrichFromSession(deps, &in)

		go runFinalize(deps, in)
		w.WriteHeader(http.StatusNoContent)
	}
}

func lookupFirm(deps Deps, number string) (storage.Firm, bool) {
	if number == "" {
		return storage.Firm{}, false
	}
	firm, err := deps.Store.GetFirmByNumber(number)
	if err == nil {
		return firm, true
	}
	if !errors.Is(err, storage.ErrNotFound) {
		deps.logger().Error("firm lookup failed", "number", number, "error", err)
	}
	return storage.Firm{}, false
}

// ensureCallRecord creates the durable record for a newly observed call.
// A concurrent create for the same provider call id loses quietly.
func ensureCallRecord(deps Deps, ev telephony.WebhookEvent, firmID, handledBy string) {
	if _, err := deps.Store.GetCallByProviderID(ev.CallSID); err == nil {
		return
	}
	rec := storage.CallRecord{
		ID:             uuid.NewString(),
		ProviderCallID: ev.CallSID,
		FirmID:         firmID,
		FromNumber:     ev.From,
		ToNumber:       ev.To,
		Status:         storage.StatusInProgress,
		HandledBy:      handledBy,
		StartedAt:      time.Now().UTC(),
	}
	if err := deps.Store.CreateCall(rec); err != nil {
		deps.logger().Error("creating call record failed", "provider_call_id", ev.CallSID, "error", err)
	}
}

// finalizeFromSession builds a finalize input from the live session (when
// one still exists) and runs the pipeline in the background.
func finalizeFromSession(deps Deps, callSID string) {
	in := finalize.Input{ProviderCallID: callSID}
	enrichFromSession(deps, &in)
	runFinalize(deps, in)
}

func enrichFromSession(deps Deps, in *finalize.Input) {
	key := in.ProviderCallID
	if key == "" {
		return
	}
	cs, ok := deps.Sessions.Get(key)
	if !ok {
		return
	}
	if in.FirmID == "" {
		in.FirmID = cs.FirmID
	}
	if in.HistoryTranscript == "" {
		in.HistoryTranscript = cs.TranscriptText()
	}
	merged := make(map[string]string, len(cs.Snapshot)+len(in.Snapshot))
	for k, v := range cs.Snapshot {
		merged[k] = v
	}
	for k, v := range in.Snapshot {
		merged[k] = v
	}
	in.Snapshot = merged
}

func runFinalize(deps Deps, in finalize.Input) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundFinalizeTO)
	defer cancel()
	if err := deps.Finalizer.Finalize(ctx, in); err != nil {
		deps.logger().Error("finalize failed", "provider_call_id", in.ProviderCallID, "error", err)
		return
	}
	if in.ProviderCallID != "" {
		deps.Sessions.Delete(in.ProviderCallID)
	}
}

func respondXML(w http.ResponseWriter, deps Deps, v *telephony.VoiceResponse) {
	out, err := v.Render()
	if err != nil {
		deps.logger().Error("rendering voice response failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "voice response render failed")
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(out))
}
