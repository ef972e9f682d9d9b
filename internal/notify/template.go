package notify

import (
	"fmt"
	"html/template"
	"strings"
)

// Email is the rendered notification ready for delivery.
type Email struct {
	Subject string
	HTML    string
}

// IntakeData carries everything the notification templates can show.
// Empty fields are omitted from the rendered email.
type IntakeData struct {
	FirmName  string
	CallTime  string
	Urgency   string
	FromPhone string

	CallerName      string
	CallerPhone     string
	CallerEmail     string
	CaseReason      string
	IncidentDetails string
	CallbackTime    string

	SummaryBullets []string
	KeyFacts       []string
	ActionItems    []string
	FollowUp       string

	RecordingURL string
	Transcript   string
}

var richTemplate = template.Must(template.New("rich").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1a1a1a; max-width: 640px; margin: 0 auto;">
  <h2>New intake call{{if .CallerName}} from {{.CallerName}}{{end}}</h2>
  <p>{{.FirmName}} received a call{{if .CallTime}} at {{.CallTime}}{{end}}{{if .FromPhone}} from {{.FromPhone}}{{end}}.</p>
  {{if .Urgency}}<p><strong>Urgency:</strong> {{.Urgency}}</p>{{end}}

  <h3>Caller details</h3>
  <ul>
    {{if .CallerName}}<li><strong>Name:</strong> {{.CallerName}}</li>{{end}}
    {{if .CallerPhone}}<li><strong>Phone:</strong> {{.CallerPhone}}</li>{{end}}
    {{if .CallerEmail}}<li><strong>Email:</strong> {{.CallerEmail}}</li>{{end}}
    {{if .CaseReason}}<li><strong>Matter:</strong> {{.CaseReason}}</li>{{end}}
    {{if .IncidentDetails}}<li><strong>Incident:</strong> {{.IncidentDetails}}</li>{{end}}
    {{if .CallbackTime}}<li><strong>Preferred callback:</strong> {{.CallbackTime}}</li>{{end}}
  </ul>

  {{if .SummaryBullets}}<h3>Summary</h3>
  <ul>{{range .SummaryBullets}}<li>{{.}}</li>{{end}}</ul>{{end}}

  {{if .KeyFacts}}<h3>Key facts</h3>
  <ul>{{range .KeyFacts}}<li>{{.}}</li>{{end}}</ul>{{end}}

  {{if .ActionItems}}<h3>Action items</h3>
  <ul>{{range .ActionItems}}<li>{{.}}</li>{{end}}</ul>{{end}}

  {{if .FollowUp}}<p><strong>Recommended follow-up:</strong> {{.FollowUp}}</p>{{end}}

  {{if .RecordingURL}}<p><a href="{{.RecordingURL}}">Listen to the call recording</a></p>{{end}}
</body>
</html>`))

var basicTemplate = template.Must(template.New("basic").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <h2>New intake call</h2>
  <p>{{.FirmName}} received a call{{if .FromPhone}} from {{.FromPhone}}{{end}}. Automated summarization was unavailable; the raw intake details are below.</p>
  <ul>
    {{if .CallerName}}<li>Name: {{.CallerName}}</li>{{end}}
    {{if .CallerPhone}}<li>Phone: {{.CallerPhone}}</li>{{end}}
    {{if .CallerEmail}}<li>Email: {{.CallerEmail}}</li>{{end}}
    {{if .CaseReason}}<li>Matter: {{.CaseReason}}</li>{{end}}
    {{if .IncidentDetails}}<li>Incident: {{.IncidentDetails}}</li>{{end}}
    {{if .CallbackTime}}<li>Preferred callback: {{.CallbackTime}}</li>{{end}}
  </ul>
  {{if .Transcript}}<h3>Transcript</h3><pre style="white-space: pre-wrap;">{{.Transcript}}</pre>{{end}}
  {{if .RecordingURL}}<p><a href="{{.RecordingURL}}">Call recording</a></p>{{end}}
</body>
</html>`))

// RenderRich builds the full notification with summary sections.
func RenderRich(d IntakeData) (Email, error) {
	var buf strings.Builder
	if err := richTemplate.Execute(&buf, d); err != nil {
		return Email{}, fmt.Errorf("rendering rich email: %w", err)
	}
	return Email{Subject: subject(d), HTML: buf.String()}, nil
}

// RenderBasic builds the degraded notification used when summarization or
// the rich send failed. It needs nothing beyond the snapshot.
func RenderBasic(d IntakeData) (Email, error) {
	var buf strings.Builder
	if err := basicTemplate.Execute(&buf, d); err != nil {
		return Email{}, fmt.Errorf("rendering basic email: %w", err)
	}
	return Email{Subject: subject(d), HTML: buf.String()}, nil
}

func subject(d IntakeData) string {
	var sb strings.Builder
	switch strings.ToLower(d.Urgency) {
	case "emergency":
		sb.WriteString("[EMERGENCY] ")
	case "high":
		sb.WriteString("[URGENT] ")
	}
	sb.WriteString("New intake call")
	if d.CallerName != "" && !strings.EqualFold(d.CallerName, "unknown") {
		sb.WriteString(" from ")
		sb.WriteString(d.CallerName)
	} else if d.FromPhone != "" {
		sb.WriteString(" from ")
		sb.WriteString(d.FromPhone)
	}
	if d.CaseReason != "" && !strings.EqualFold(d.CaseReason, "unknown") {
		sb.WriteString(": ")
		sb.WriteString(d.CaseReason)
	}
	return sb.String()
}
