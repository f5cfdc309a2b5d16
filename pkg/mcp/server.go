// Package mcp exposes the agent's memory over the Model Context
// Protocol so other tools can read and maintain it directly.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kokoro-agent/kokoro/pkg/agent"
)

// Server wraps the mcp-go server with the memory tool set.
type Server struct {
	dispatcher *agent.Dispatcher
	mcpServer  *server.MCPServer
	logger     *slog.Logger
}

// NewServer creates an MCP server over the dispatcher. All tool
// handlers go through the dispatcher so they take the same memory
// lease as HTTP requests.
func NewServer(dispatcher *agent.Dispatcher, name, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		dispatcher: dispatcher,
		mcpServer: server.NewMCPServer(name, version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		logger: logger,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("read_core_memory",
		mcp.WithDescription("Read one of the agent's core memory documents."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Core document name: identity.md, user.md, or state.md."),
		),
	), s.handleReadCoreMemory)

	s.mcpServer.AddTool(mcp.NewTool("update_core_memory",
		mcp.WithDescription("Replace the content of a writable core memory document. identity.md cannot be updated."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Core document name: user.md or state.md."),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The full new document content."),
		),
	), s.handleUpdateCoreMemory)

	s.mcpServer.AddTool(mcp.NewTool("search_logs",
		mcp.WithDescription("Search the daily logs for entries containing the query, case-insensitively."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Substring to search for."),
		),
		mcp.WithString("from", mcp.Description("Earliest date to search, YYYY-MM-DD.")),
		mcp.WithString("to", mcp.Description("Latest date to search, YYYY-MM-DD.")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of matches to return.")),
	), s.handleSearchLogs)

	s.mcpServer.AddTool(mcp.NewTool("read_daily_log",
		mcp.WithDescription("Read all log entries for one day."),
		mcp.WithString("date",
			mcp.Required(),
			mcp.Description("The day to read, YYYY-MM-DD."),
		),
	), s.handleReadDailyLog)
}

func (s *Server) handleReadCoreMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := s.dispatcher.ReadCore(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(content), nil
}

func (s *Server) handleUpdateCoreMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.dispatcher.UpdateCore(ctx, name, content); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated %s", name)), nil
}

func (s *Server) handleSearchLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	from := request.GetString("from", "")
	to := request.GetString("to", "")
	limit := request.GetInt("limit", 0)

	hits, err := s.dispatcher.SearchLogs(ctx, query, from, to, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText("no matches"), nil
	}
	var sb strings.Builder
	for _, hit := range hits {
		fmt.Fprintf(&sb, "- [%s] %s\n", hit.Date, hit.Record.Text)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleReadDailyLog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	date, err := request.RequireString("date")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	records, err := s.dispatcher.ReadDailyLog(ctx, date)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(records) == 0 {
		return mcp.NewToolResultText("no entries"), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n", date)
	for _, rec := range records {
		fmt.Fprintf(&sb, "- %s\n", rec.Text)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// ServeStdio serves MCP over stdin/stdout, for editor and CLI clients.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over HTTP with SSE on bind until ctx is
// cancelled.
func (s *Server) ServeSSE(ctx context.Context, bind string) error {
	sse := server.NewSSEServer(s.mcpServer)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mcp listening", slog.String("bind", bind))
		errCh <- sse.Start(bind)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return sse.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
