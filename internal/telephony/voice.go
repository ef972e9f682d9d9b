package telephony

import (
	"encoding/xml"
	"fmt"
)

// VoiceResponse is the XML document returned to the provider from a voice
// webhook. Verbs execute in order.
type VoiceResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Say speaks text to the caller.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Gather speaks a prompt and collects the caller's speech, posting the
// result to Action.
type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Say           *Say     `xml:"Say,omitempty"`
}

// Dial forwards the call to another number.
type Dial struct {
	XMLName xml.Name `xml:"Dial"`
	Number  string   `xml:",chardata"`
}

// Redirect re-enters the webhook loop without speaking.
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	URL     string   `xml:",chardata"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Render serializes the response with the XML declaration the provider
// expects.
func (v *VoiceResponse) Render() (string, error) {
	out, err := xml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("rendering voice response: %w", err)
	}
	return xml.Header + string(out), nil
}

const defaultVoice = "Polly.Joanna"

// GatherSpeech builds the standard mid-conversation response: speak the
// utterance, then listen for the caller's reply and post it back to
// actionURL.
func GatherSpeech(utterance, actionURL string) *VoiceResponse {
	return &VoiceResponse{
		Verbs: []any{
			&Gather{
				Input:         "speech",
				Action:        actionURL,
				Method:        "POST",
				SpeechTimeout: "auto",
				Say:           &Say{Voice: defaultVoice, Text: utterance},
			},
			// Caller stayed silent past the timeout: loop back in.
			&Redirect{URL: actionURL},
		},
	}
}

// SayAndHangUp builds the final response: speak the utterance, then end
// the call.
func SayAndHangUp(utterance string) *VoiceResponse {
	return &VoiceResponse{
		Verbs: []any{
			&Say{Voice: defaultVoice, Text: utterance},
			&Hangup{},
		},
	}
}

// ForwardTo builds the business-hours response: greet briefly and connect
// the caller to a human.
func ForwardTo(number string) *VoiceResponse {
	return &VoiceResponse{
		Verbs: []any{
			&Say{Voice: defaultVoice, Text: "Please hold while I connect you."},
			&Dial{Number: number},
		},
	}
}
