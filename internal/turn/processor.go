// Package turn implements the conversational turn processor: given a live
// call session and a new caller utterance it produces the next thing to
// say, the next script state, and any intake field updates. The model
// proposes; a deterministic layer disposes. Skip-if-filled, the verbatim
// closing and emergency scripts, and the fallback turn are all enforced
// here regardless of what the model returns.
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/intakeline/intakeline/internal/llm"
	"github.com/intakeline/intakeline/internal/script"
	"github.com/intakeline/intakeline/internal/session"
)

const defaultTurnTimeout = 6 * time.Second

// Chatter is the chat-completion interface the processor depends on.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []llm.Message, jsonSchema *llm.Schema) (string, error)
}

// Result is the outcome of one processed turn.
type Result struct {
	Utterance string
	NextState script.State
	Updates   map[string]string
	Done      bool
	Fallback  bool // true when the model call failed and the safe turn was used
}

// Processor drives the intake conversation one turn at a time.
type Processor struct {
	client  Chatter
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewProcessor creates a Processor using the given completion client and
// model name.
func NewProcessor(client Chatter, model string) *Processor {
	return &Processor{
		client:  client,
		model:   model,
		timeout: defaultTurnTimeout,
		logger:  slog.Default(),
	}
}

// NewProcessorWithTimeout creates a Processor with a custom per-turn
// deadline (tests, latency tuning).
func NewProcessorWithTimeout(client Chatter, model string, timeout time.Duration) *Processor {
	p := NewProcessor(client, model)
	if timeout > 0 {
		p.timeout = timeout
	}
	return p
}

// Process runs one conversational turn and mutates the session in place:
// the caller utterance and the agent's reply are appended to history and
// field updates are merged into the snapshot. It never returns an error:
// a phone call cannot be left silent, so model failures degrade to a
// fixed fallback turn in the same state.
func (p *Processor) Process(ctx context.Context, cs *session.CallSession, callerUtterance string) Result {
	callerUtterance = strings.TrimSpace(callerUtterance)
	if callerUtterance != "" {
		cs.AppendCaller(callerUtterance)
	}

	// Defensive skip: never enter a state whose field is already filled.
	state := advancePastFilled(cs, cs.State)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.client.Chat(ctx, p.model, buildMessages(cs, state, ""), turnSchema())
	if err != nil {
		p.logger.Warn("turn completion failed, using fallback", "call_id", cs.CallID, "error", err)
		return p.fallback(cs, state)
	}

	reply, err := parseReply(raw)
	if err != nil {
		p.logger.Warn("unusable turn reply, using fallback", "call_id", cs.CallID, "error", err)
		return p.fallback(cs, state)
	}

	return p.apply(cs, state, reply)
}

// fallback returns the fixed safe turn: same state, no updates, keep
// listening.
func (p *Processor) fallback(cs *session.CallSession, state script.State) Result {
	cs.State = state
	cs.AppendAgent(script.FallbackUtterance)
	return Result{
		Utterance: script.FallbackUtterance,
		NextState: state,
		Done:      false,
		Fallback:  true,
	}
}

// reply is the validated model output for one turn.
type reply struct {
	AssistantSay string
	NextState    script.State
	Updates      map[string]string
	Done         bool
}

// parseReply decodes and validates the model's JSON. Any violation
// (malformed JSON, an unknown next_state, a non-scalar update value) is an
// error; the caller treats it exactly like a transport failure.
func parseReply(raw string) (reply, error) {
	var decoded struct {
		AssistantSay string         `json:"assistant_say"`
		NextState    string         `json:"next_state"`
		Updates      map[string]any `json:"updates"`
		Done         bool           `json:"done"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return reply{}, fmt.Errorf("decoding turn reply: %w", err)
	}

	next := script.State(decoded.NextState)
	if !next.Valid() {
		return reply{}, fmt.Errorf("model proposed unknown state %q", decoded.NextState)
	}

	updates := make(map[string]string, len(decoded.Updates))
	for k, v := range decoded.Updates {
		switch val := v.(type) {
		case string:
			updates[k] = val
		case bool:
			updates[k] = strconv.FormatBool(val)
		case float64:
			updates[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case nil:
			// Tolerated: an explicit null simply means no value.
		default:
			return reply{}, fmt.Errorf("update %q has non-scalar value", k)
		}
	}

	return reply{
		AssistantSay: strings.TrimSpace(decoded.AssistantSay),
		NextState:    next,
		Updates:      updates,
		Done:         decoded.Done,
	}, nil
}

// apply runs the deterministic override layer over the model's proposal
// and commits the turn to the session.
func (p *Processor) apply(cs *session.CallSession, state script.State, r reply) Result {
	updates := p.normalizeUpdates(cs, state, r.Updates)

	emergency := strings.EqualFold(updates[string(script.FieldEmergencyRedirected)], "true")

	say := r.AssistantSay
	next := r.NextState
	done := r.Done

	switch {
	case emergency:
		// Safety override beats everything, including the model's text.
		say = script.EmergencyScript
		next = script.StateEmergency
		done = true
	case next.Terminal() || done:
		// Legal language must be exact: never speak the model's closing.
		say = script.ClosingScript(cs.FirmName)
		next = script.StateClosing
		done = true
	default:
		if say == "" {
			say = script.Question(next, cs.FirmName)
		}
		if say == "" {
			say = script.FallbackUtterance
		}
		// Never repeat a sentence verbatim when a state is revisited.
		if cs.AgentSaid(say) {
			say = "Just to make sure I have it right: " + say
		}
	}

	cs.Snapshot.Merge(updates)
	cs.State = next
	cs.AppendAgent(say)

	return Result{
		Utterance: say,
		NextState: next,
		Updates:   updates,
		Done:      done,
	}
}

// normalizeUpdates applies field normalization policy: phone numbers to
// E.164, and a single re-prompt before "unknown" is accepted on a required
// field.
func (p *Processor) normalizeUpdates(cs *session.CallSession, state script.State, updates map[string]string) map[string]string {
	out := make(map[string]string, len(updates))
	for k, v := range updates {
		fs, known := script.FieldByName(script.Field(k))
		if known && fs.Phone {
			v = script.NormalizePhone(v)
		}
		if known && fs.Required && strings.EqualFold(v, script.Unknown) && !cs.Snapshot.Has(fs.Name) {
			if !cs.Reprompted[fs.Name] {
				// First refusal on a required field: drop the value so the
				// current state re-asks once.
				cs.Reprompted[fs.Name] = true
				continue
			}
		}
		out[k] = v
	}
	return out
}

// advancePastFilled walks the default transition chain past any skippable
// state whose target field already holds a real value. Guarantees the
// idempotent-questioning invariant even when the model ignores it.
func advancePastFilled(cs *session.CallSession, state script.State) script.State {
	for i := 0; i < len(script.States); i++ {
		spec, ok := script.States[state]
		if !ok || spec.Terminal {
			return state
		}
		if spec.Target == "" || !spec.Skippable || !cs.Snapshot.Has(spec.Target) {
			return state
		}
		state = spec.Next
	}
	return state
}
