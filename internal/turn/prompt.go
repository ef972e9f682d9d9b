package turn

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/intakeline/intakeline/internal/llm"
	"github.com/intakeline/intakeline/internal/script"
	"github.com/intakeline/intakeline/internal/session"
)

const systemPromptTemplate = `You are the phone intake assistant for the law firm "%s". You are speaking with a caller over the phone. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Rules:
- Ask exactly ONE question per turn. Keep every reply under two short sentences; this is a voice call.
- Never give legal advice or an opinion on the merits of the caller's case.
- Extract any intake field values the caller provides into "updates", even if they answer a question you did not ask.
- Never re-ask for a field that already has a value in the snapshot. Move to the next step instead.
- If the caller cannot or will not provide a field, use the literal string "unknown" as its value.
- If the caller indicates immediate danger, active violence, a fire, or a medical emergency, set "emergency_redirected" to "true" in updates and set "done" to true. This overrides every other rule.
- When every needed field is collected, set "next_state" to "closing" and "done" to true.`

// buildMessages assembles the chat prompt for one turn: system instruction,
// current state description, the snapshot so far, and the full history with
// the new caller utterance last.
func buildMessages(cs *session.CallSession, state script.State, utterance string) []llm.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, systemPromptTemplate, firmOrDefault(cs.FirmName))

	spec := script.States[state]
	sb.WriteString("\n\n[Current Step]\n")
	fmt.Fprintf(&sb, "state: %s\n", state)
	if spec.Target != "" {
		fs, _ := script.FieldByName(spec.Target)
		fmt.Fprintf(&sb, "collect: %s (%s)\n", spec.Target, fs.Hint)
	}
	if q := script.Question(state, cs.FirmName); q != "" {
		fmt.Fprintf(&sb, "suggested question: %s\n", q)
	}
	fmt.Fprintf(&sb, "default next state: %s\n", spec.Next)

	sb.WriteString("\n[Valid States]\n")
	sb.WriteString(validStatesLine())

	if snap, err := json.Marshal(cs.Snapshot); err == nil {
		sb.WriteString("\n\n[Snapshot]\n")
		sb.Write(snap)
	}

	messages := []llm.Message{
		{Role: "system", Content: sb.String()},
	}

	for _, t := range cs.History {
		role := "user"
		if t.Role == session.RoleAgent {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Content})
	}

	if utterance != "" {
		messages = append(messages, llm.Message{Role: "user", Content: utterance})
	}

	return messages
}

func validStatesLine() string {
	names := make([]string, 0, len(script.States))
	for s := range script.States {
		names = append(names, string(s))
	}
	// Deterministic ordering keeps prompts stable across runs.
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func firmOrDefault(name string) string {
	if name == "" {
		return "the firm"
	}
	return name
}

// turnSchema is the structured output contract for one turn.
func turnSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"assistant_say": {Type: "string", Description: "Exactly what to say to the caller next"},
			"next_state":    {Type: "string", Description: "The state to move to after this turn"},
			"updates":       {Type: "object", Description: "Intake field values extracted from the caller's words"},
			"done":          {Type: "boolean", Description: "True when the call should end after speaking"},
		},
		Required: []string{"assistant_say", "next_state", "updates", "done"},
	}
}
