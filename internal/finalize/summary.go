package finalize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/intakeline/intakeline/internal/llm"
	"github.com/intakeline/intakeline/internal/script"
	"github.com/intakeline/intakeline/internal/storage"
)

// Summary is the structured post-call digest stored on the record and
// rendered into the notification.
type Summary struct {
	Bullets     []string `json:"summary_bullets"`
	KeyFacts    []string `json:"key_facts"`
	ActionItems []string `json:"action_items"`
	FollowUp    string   `json:"follow_up"`
	Urgency     string   `json:"urgency"`
}

const (
	UrgencyEmergency = "emergency"
	UrgencyHigh      = "high"
	UrgencyNormal    = "normal"
)

const summarySystemPrompt = `You summarize completed legal intake calls for the law firm's staff.
Given the transcript and the structured intake fields, produce:
- summary_bullets: 2 to 5 short bullets covering what happened and what the caller needs
- key_facts: names, dates, places, amounts worth flagging
- action_items: concrete next steps for the firm
- follow_up: one sentence recommending how and when to follow up
- urgency: "emergency" if anyone is in danger, "high" if time-sensitive (statute deadlines, ongoing harm, caller in custody), otherwise "normal"
Be factual. Do not invent details that are not in the transcript or the intake fields.`

func summarySchema() *llm.Schema {
	str := llm.SchemaProperty{Type: "string"}
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"summary_bullets": {Type: "array", Items: &str},
			"key_facts":       {Type: "array", Items: &str},
			"action_items":    {Type: "array", Items: &str},
			"follow_up":       {Type: "string"},
			"urgency":         {Type: "string", Enum: []string{UrgencyEmergency, UrgencyHigh, UrgencyNormal}},
		},
		Required: []string{"summary_bullets", "key_facts", "action_items", "follow_up", "urgency"},
	}
}

// summarize asks the model for a structured digest of the call.
func (f *Finalizer) summarize(ctx context.Context, rec storage.CallRecord) (Summary, error) {
	var sb strings.Builder
	if rec.IntakeJSON != "" {
		sb.WriteString("[Intake Fields]\n")
		sb.WriteString(rec.IntakeJSON)
		sb.WriteString("\n\n")
	}
	if rec.TranscriptText != "" {
		sb.WriteString("[Transcript]\n")
		sb.WriteString(rec.TranscriptText)
	} else {
		sb.WriteString("[Transcript]\nNot available. Summarize from the intake fields alone.")
	}

	raw, err := f.chat.Chat(ctx, f.model, []llm.Message{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: sb.String()},
	}, summarySchema())
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		return Summary{}, fmt.Errorf("decoding summary: %w", err)
	}
	if len(sum.Bullets) == 0 {
		return Summary{}, fmt.Errorf("summary has no bullets")
	}
	switch sum.Urgency {
	case UrgencyEmergency, UrgencyHigh, UrgencyNormal:
	default:
		sum.Urgency = UrgencyNormal
	}
	return sum, nil
}

// fallbackSummary assembles a digest directly from the snapshot when the
// model is unavailable. Deliberately boring and deterministic.
func fallbackSummary(rec storage.CallRecord) Summary {
	snap := map[string]string{}
	if rec.IntakeJSON != "" {
		json.Unmarshal([]byte(rec.IntakeJSON), &snap)
	}
	get := func(name script.Field) string {
		v := snap[string(name)]
		if strings.EqualFold(v, script.Unknown) {
			return ""
		}
		return v
	}

	sum := Summary{Urgency: UrgencyNormal}
	if strings.EqualFold(snap[string(script.FieldEmergencyRedirected)], "true") {
		sum.Urgency = UrgencyEmergency
		sum.Bullets = append(sum.Bullets, "Caller was redirected to emergency services mid-call.")
	}
	if name := get(script.FieldFullName); name != "" {
		sum.Bullets = append(sum.Bullets, "Caller: "+name)
	}
	if reason := get(script.FieldCaseReason); reason != "" {
		sum.Bullets = append(sum.Bullets, "Matter: "+reason)
	}
	if details := get(script.FieldIncidentDetails); details != "" {
		sum.Bullets = append(sum.Bullets, "Incident: "+details)
	}
	if len(sum.Bullets) == 0 {
		sum.Bullets = append(sum.Bullets, "Call completed with no intake details collected.")
	}
	if phone := get(script.FieldPhoneNumber); phone != "" {
		sum.KeyFacts = append(sum.KeyFacts, "Callback number: "+phone)
	}
	if when := get(script.FieldCallbackTime); when != "" {
		sum.KeyFacts = append(sum.KeyFacts, "Preferred callback: "+when)
	}
	sum.ActionItems = append(sum.ActionItems, "Review the intake details and call the client back.")
	sum.FollowUp = "Automated summarization was unavailable; a staff member should review the transcript."
	return sum
}
