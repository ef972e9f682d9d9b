// Package session holds per-call conversation state for the duration of
// one phone call: the current script state, the intake snapshot, and the
// turn history. Sessions live in process memory and are evicted on
// completion or by the idle sweep.
package session

import (
	"strings"
	"time"

	"github.com/intakeline/intakeline/internal/script"
)

// Turn is one utterance in the conversation, by either party.
type Turn struct {
	Role    string `json:"role"` // "caller" or "agent"
	Content string `json:"content"`
}

const (
	RoleCaller = "caller"
	RoleAgent  = "agent"
)

// Snapshot is the accumulated structured intake fields for one call.
// Values are freeform strings or the script.Unknown sentinel.
type Snapshot map[string]string

// Merge applies updates additively: a field already holding a real value is
// never overwritten by Unknown or by an empty string. Real values may be
// refined by later real values.
func (s Snapshot) Merge(updates map[string]string) {
	for k, v := range updates {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		existing, ok := s[k]
		if ok && existing != "" && !strings.EqualFold(existing, script.Unknown) && strings.EqualFold(v, script.Unknown) {
			continue
		}
		s[k] = v
	}
}

// Has reports whether field holds a real (non-empty, non-Unknown) value.
func (s Snapshot) Has(field script.Field) bool {
	v, ok := s[string(field)]
	return ok && v != "" && !strings.EqualFold(v, script.Unknown)
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// CallSession is the mutable state of one in-flight call.
type CallSession struct {
	CallID     string
	FirmID     string
	FirmName   string
	State      script.State
	Snapshot   Snapshot
	History    []Turn
	Reprompted map[script.Field]bool // required fields already re-asked once
	StartedAt  time.Time
	LastActive time.Time
}

// AppendCaller records a caller utterance.
func (cs *CallSession) AppendCaller(content string) {
	cs.History = append(cs.History, Turn{Role: RoleCaller, Content: content})
}

// AppendAgent records an agent utterance.
func (cs *CallSession) AppendAgent(content string) {
	cs.History = append(cs.History, Turn{Role: RoleAgent, Content: content})
}

// AgentSaid reports whether the agent already spoke the exact sentence.
// Used to avoid repeating a question verbatim when a state is revisited.
func (cs *CallSession) AgentSaid(sentence string) bool {
	for _, t := range cs.History {
		if t.Role == RoleAgent && t.Content == sentence {
			return true
		}
	}
	return false
}

// TranscriptText renders the history as a plain transcript, the fallback
// used when no provider transcript exists.
func (cs *CallSession) TranscriptText() string {
	var b strings.Builder
	for _, t := range cs.History {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}
