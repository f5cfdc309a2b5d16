package llm

import (
	"testing"

	"github.com/kokoro-agent/kokoro/pkg/errors"
)

func TestParsePlainTextIsReplyOnly(t *testing.T) {
	payload, err := ParsePayload("You worked on the blog deploy yesterday.")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if payload.Reply != "You worked on the blog deploy yesterday." {
		t.Fatalf("unexpected reply: %q", payload.Reply)
	}
	if len(payload.Actions) != 0 {
		t.Fatalf("plain text must carry no actions: %v", payload.Actions)
	}
}

func TestParseStructuredReplyWithActions(t *testing.T) {
	content := `{"reply": "Deploying now.", "actions": [{"skill": "deploy"}, {"command": "date"}], "rollback": "restore.sh"}`
	payload, err := ParsePayload(content)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if payload.Reply != "Deploying now." {
		t.Fatalf("reply: %q", payload.Reply)
	}
	if len(payload.Actions) != 2 {
		t.Fatalf("actions: %v", payload.Actions)
	}
	if payload.Actions[0].Skill != "deploy" || payload.Actions[1].Command != "date" {
		t.Fatalf("action content: %v", payload.Actions)
	}
	if payload.Rollback != "restore.sh" {
		t.Fatalf("rollback: %q", payload.Rollback)
	}
}

func TestParseFencedBlock(t *testing.T) {
	content := "Here is my plan:\n```json\n{\"reply\": \"ok\", \"actions\": [{\"command\": \"uptime\"}]}\n```\n"
	payload, err := ParsePayload(content)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if payload.Reply != "ok" || len(payload.Actions) != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed json", `{"reply": "x", "actions": [}`},
		{"unknown field", `{"reply": "x", "steps": ["a"]}`},
		{"missing reply", `{"actions": [{"command": "ls"}]}`},
		{"both skill and command", `{"reply": "x", "actions": [{"skill": "a", "command": "b"}]}`},
		{"neither skill nor command", `{"reply": "x", "actions": [{}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload(tt.content)
			if err == nil {
				t.Fatal("expected parse failure")
			}
			if errors.CodeOf(err) != errors.CodeParseFailure {
				t.Fatalf("unexpected code: %s", errors.CodeOf(err))
			}
		})
	}
}

func TestParseReplyOnlyObject(t *testing.T) {
	payload, err := ParsePayload(`{"reply": "nothing to do"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if payload.Reply != "nothing to do" || len(payload.Actions) != 0 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
