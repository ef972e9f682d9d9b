// Package script defines the intake conversation script: the fields the
// agent collects, the ordered conversation states, and the canonical
// question text for each state. It is pure data; the turn processor owns
// all control flow.
package script

import "strings"

// Unknown is the sentinel value stored when a caller cannot or will not
// provide a field.
const Unknown = "unknown"

// Field names one collectible intake datum.
type Field string

const (
	FieldFullName        Field = "full_name"
	FieldPhoneNumber     Field = "phone_number"
	FieldEmail           Field = "email"
	FieldCaseReason      Field = "case_reason"
	FieldIncidentDetails Field = "incident_details"
	FieldCallbackTime    Field = "callback_time"

	// FieldEmergencyRedirected is a boolean flag field set by the turn
	// processor when the caller signals immediate danger.
	FieldEmergencyRedirected Field = "emergency_redirected"
)

// FieldSpec describes how a field is collected and normalized.
type FieldSpec struct {
	Name     Field
	Required bool   // required fields get one re-prompt before Unknown is accepted
	Hint     string // extraction hint passed to the model
	Phone    bool   // normalize value to E.164 where parseable
}

// Fields is the static schema of all collectible intake fields.
var Fields = []FieldSpec{
	{Name: FieldFullName, Required: true, Hint: "the caller's full legal name"},
	{Name: FieldPhoneNumber, Required: true, Phone: true, Hint: "the best callback phone number"},
	{Name: FieldEmail, Required: false, Hint: "the caller's email address, if offered"},
	{Name: FieldCaseReason, Required: true, Hint: "a short phrase describing why the caller needs a lawyer"},
	{Name: FieldIncidentDetails, Required: false, Hint: "when and where the incident happened and who was involved"},
	{Name: FieldCallbackTime, Required: false, Hint: "when the caller prefers to be called back"},
}

// FieldByName returns the spec for the named field.
func FieldByName(name Field) (FieldSpec, bool) {
	for _, f := range Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// State names a step in the intake script.
type State string

const (
	StateGreeting        State = "greeting"
	StateCollectName     State = "collect_name"
	StateCollectPhone    State = "collect_phone"
	StateCollectReason   State = "collect_reason"
	StateCollectIncident State = "collect_incident_details"
	StateCollectCallback State = "collect_callback_time"
	StateClosing         State = "closing"
	StateEmergency       State = "emergency"
)

// StateSpec maps a state to the field it targets, its canonical question,
// and its default successor. Target is empty for states that collect nothing.
type StateSpec struct {
	Target    Field
	Question  string // may contain the {{firm_name}} placeholder
	Next      State
	Skippable bool // advance without asking when Target is already filled
	Terminal  bool
}

// States is the transition table for the intake script. It is the single
// source of truth for conversation content; only the closing and emergency
// scripts live outside it, because those are rendered verbatim.
var States = map[State]StateSpec{
	StateGreeting: {
		Question: "Thank you for calling {{firm_name}}. I'm the firm's virtual intake assistant. May I ask a few quick questions so the right attorney can call you back?",
		Next:     StateCollectName,
	},
	StateCollectName: {
		Target:    FieldFullName,
		Question:  "Could I get your full name, please?",
		Next:      StateCollectPhone,
		Skippable: true,
	},
	StateCollectPhone: {
		Target:    FieldPhoneNumber,
		Question:  "What's the best phone number to reach you at?",
		Next:      StateCollectReason,
		Skippable: true,
	},
	StateCollectReason: {
		Target:    FieldCaseReason,
		Question:  "In a sentence or two, what legal matter can we help you with?",
		Next:      StateCollectIncident,
		Skippable: true,
	},
	StateCollectIncident: {
		Target:    FieldIncidentDetails,
		Question:  "Could you tell me roughly when and where this happened?",
		Next:      StateCollectCallback,
		Skippable: true,
	},
	StateCollectCallback: {
		Target:    FieldCallbackTime,
		Question:  "Is there a time of day that works best for an attorney to call you back?",
		Next:      StateClosing,
		Skippable: true,
	},
	StateClosing: {
		Terminal: true,
		Next:     StateClosing,
	},
	StateEmergency: {
		Terminal: true,
		Next:     StateEmergency,
	},
}

// Valid reports whether s names a defined conversation state.
func (s State) Valid() bool {
	_, ok := States[s]
	return ok
}

// Terminal reports whether s ends the call.
func (s State) Terminal() bool {
	spec, ok := States[s]
	return ok && spec.Terminal
}

// Initial is the state a new call session starts in.
const Initial = StateGreeting

const closingTemplate = "Thank you. I have everything I need. Someone from {{firm_name}} will review your information and call you back as soon as possible. If your situation changes, please call us again. Goodbye."

// EmergencyScript is spoken verbatim whenever the caller indicates immediate
// danger. It is never paraphrased by the model.
const EmergencyScript = "It sounds like you may be in immediate danger. Please hang up and dial 9 1 1 right away. If it is safe to do so, you can call us back afterward. I'm ending this call now so you can get help."

// FallbackUtterance is spoken when the model call fails or returns
// unusable output. The call must never go silent.
const FallbackUtterance = "I'm sorry, I didn't catch that. Could you repeat?"

// ClosingScript renders the verbatim closing script for a firm.
func ClosingScript(firmName string) string {
	return renderFirm(closingTemplate, firmName)
}

// Question renders the canonical question for a state, substituting the
// firm name placeholder. Returns "" for states without a question.
func Question(s State, firmName string) string {
	spec, ok := States[s]
	if !ok {
		return ""
	}
	return renderFirm(spec.Question, firmName)
}

func renderFirm(text, firmName string) string {
	if firmName == "" {
		firmName = "the firm"
	}
	return strings.ReplaceAll(text, "{{firm_name}}", firmName)
}
