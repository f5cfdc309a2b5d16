package mcp

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kokoro-agent/kokoro/pkg/agent"
	"github.com/kokoro-agent/kokoro/pkg/executor"
	"github.com/kokoro-agent/kokoro/pkg/llm"
	"github.com/kokoro-agent/kokoro/pkg/memory"
	"github.com/kokoro-agent/kokoro/pkg/prompt"
	"github.com/kokoro-agent/kokoro/pkg/skills"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := memory.NewStore(t.TempDir())
	if err := store.WriteCore("user.md", "# User\n\nRuns a blog.\n"); err != nil {
		t.Fatal(err)
	}
	library, err := skills.NewLibrary(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := agent.New(
		store,
		memory.NewLease(time.Second),
		library,
		prompt.NewAssembler(store, library),
		llm.NewGateway(&llm.MockProvider{Response: "unused"}),
		executor.New(executor.WithLogger(logger)),
		agent.WithLogger(logger),
	)
	return NewServer(dispatcher, "kokoro-test", "0.0.0", logger), store
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, not text", result.Content[0])
	}
	return text.Text
}

func TestReadCoreMemoryTool(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleReadCoreMemory(context.Background(),
		callRequest("read_core_memory", map[string]any{"name": "user.md"}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", resultText(t, result))
	}
	if !strings.Contains(resultText(t, result), "Runs a blog.") {
		t.Fatalf("content: %q", resultText(t, result))
	}
}

func TestReadCoreMemoryToolRejectsUnknownName(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleReadCoreMemory(context.Background(),
		callRequest("read_core_memory", map[string]any{"name": "../secrets.md"}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for invalid core file name")
	}
}

func TestUpdateCoreMemoryTool(t *testing.T) {
	s, store := newTestServer(t)

	result, err := s.handleUpdateCoreMemory(context.Background(),
		callRequest("update_core_memory", map[string]any{
			"name":    "state.md",
			"content": "# State\n\nDeploy in progress.\n",
		}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", resultText(t, result))
	}

	content, err := store.ReadCore("state.md")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(content, "Deploy in progress.") {
		t.Fatalf("state.md: %q", content)
	}
}

func TestUpdateCoreMemoryToolRejectsIdentity(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleUpdateCoreMemory(context.Background(),
		callRequest("update_core_memory", map[string]any{
			"name":    "identity.md",
			"content": "rewritten",
		}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatal("identity.md must be read-only")
	}
}

func TestSearchLogsTool(t *testing.T) {
	s, store := newTestServer(t)

	if _, err := store.AppendLog("2026-08-30", "shipped the new theme"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendLog("2026-08-31", "fixed the feed reader"); err != nil {
		t.Fatal(err)
	}

	result, err := s.handleSearchLogs(context.Background(),
		callRequest("search_logs", map[string]any{"query": "THEME"}))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "shipped the new theme") {
		t.Fatalf("search result: %q", text)
	}
	if strings.Contains(text, "feed reader") {
		t.Fatalf("unrelated entry matched: %q", text)
	}
}

func TestSearchLogsToolNoMatches(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleSearchLogs(context.Background(),
		callRequest("search_logs", map[string]any{"query": "nothing"}))
	if err != nil {
		t.Fatal(err)
	}
	if resultText(t, result) != "no matches" {
		t.Fatalf("result: %q", resultText(t, result))
	}
}

func TestReadDailyLogTool(t *testing.T) {
	s, store := newTestServer(t)

	if _, err := store.AppendLog("2026-08-30", "shipped the new theme"); err != nil {
		t.Fatal(err)
	}

	result, err := s.handleReadDailyLog(context.Background(),
		callRequest("read_daily_log", map[string]any{"date": "2026-08-30"}))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "# 2026-08-30") || !strings.Contains(text, "shipped the new theme") {
		t.Fatalf("result: %q", text)
	}
}

func TestReadDailyLogToolRejectsBadDate(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleReadDailyLog(context.Background(),
		callRequest("read_daily_log", map[string]any{"date": "../../etc/passwd"}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for invalid date")
	}
}
