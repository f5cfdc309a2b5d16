package llm

import (
	"encoding/json"
	"strings"

	"github.com/kokoro-agent/kokoro/pkg/errors"
)

// Action is one entry of a model-proposed action plan: either a skill
// invocation by name or a literal shell command candidate, never both.
type Action struct {
	Skill   string `json:"skill,omitempty"`
	Command string `json:"command,omitempty"`
}

// Payload is the structured model response: reply text plus an
// optional ordered action plan.
type Payload struct {
	Reply    string   `json:"reply"`
	Actions  []Action `json:"actions,omitempty"`
	Rollback string   `json:"rollback,omitempty"`
}

// ResponseFormat is appended to the system prompt so the model answers
// in the structured schema ParsePayload expects.
const ResponseFormat = `Respond with a single JSON object:
{"reply": "<your answer>", "actions": [{"skill": "<name>"} or {"command": "<shell command>"}], "rollback": "<shell command>"}
Omit "actions" and "rollback" when no action is needed. Anything that
is not this JSON object is delivered to the user as plain text and
nothing is executed.`

// ParsePayload parses a model response into a Payload. A response with
// no JSON object is a plain reply, not an error. A response that looks
// structured but cannot be parsed unambiguously fails with a
// PARSE_FAILURE; the caller degrades it to plain text and must never
// execute actions from it.
func ParsePayload(content string) (Payload, error) {
	candidate, found := extractJSON(content)
	if !found {
		return Payload{Reply: content}, nil
	}

	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.DisallowUnknownFields()
	var payload Payload
	if err := dec.Decode(&payload); err != nil {
		return Payload{}, errors.Wrap(errors.CodeParseFailure, "malformed structured response", err)
	}
	if payload.Reply == "" {
		return Payload{}, errors.New(errors.CodeParseFailure, "structured response missing reply")
	}
	for i, action := range payload.Actions {
		hasSkill := strings.TrimSpace(action.Skill) != ""
		hasCommand := strings.TrimSpace(action.Command) != ""
		if hasSkill == hasCommand {
			return Payload{}, errors.New(errors.CodeParseFailure,
				"action entry must name exactly one of skill or command")
		}
		payload.Actions[i] = Action{
			Skill:   strings.TrimSpace(action.Skill),
			Command: strings.TrimSpace(action.Command),
		}
	}
	return payload, nil
}

// extractJSON finds the structured candidate: the whole body when it
// is a JSON object, or the content of a fenced json block.
func extractJSON(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") {
		return trimmed, true
	}
	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(trimmed, fence)
		if start < 0 {
			continue
		}
		rest := trimmed[start+len(fence):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		inner := strings.TrimSpace(rest[:end])
		if strings.HasPrefix(inner, "{") {
			return inner, true
		}
	}
	return "", false
}
