package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/intakeline/intakeline/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
}

// NewMCPServer creates an MCP server exposing read-only intake queries so
// a firm's assistant can answer "who called us yesterday" questions.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"intakeline",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("intakeline call-intake records for the firm: recent calls, transcripts, and summaries."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_recent_calls",
			mcp.WithDescription("List the most recent intake calls with status, urgency, and caller details."),
			mcp.WithString("firm_id", mcp.Description("Restrict to one firm")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of calls (default 10)")),
		),
		mcpListRecentCalls(deps),
	)

	s.AddTool(
		mcp.NewTool("get_call",
			mcp.WithDescription("Fetch one call record in full, including transcript and summary."),
			mcp.WithString("id", mcp.Description("Call record id"), mcp.Required()),
		),
		mcpGetCall(deps),
	)

	s.AddTool(
		mcp.NewTool("search_calls",
			mcp.WithDescription("Search call transcripts, intake fields, and summaries for a phrase."),
			mcp.WithString("query", mcp.Description("Text to search for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchCalls(deps),
	)

	return s
}

func mcpListRecentCalls(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 || limit > 50 {
			limit = 10
		}
		firmID := req.GetString("firm_id", "")

		records, err := deps.Store.ListCalls(firmID, limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("listing calls: %v", err)), nil
		}
		if len(records) == 0 {
			return mcpText("No calls recorded yet."), nil
		}

		views := make([]callView, len(records))
		for i, rec := range records {
			views[i] = toCallView(rec, false)
		}
		return mcpJSON(views)
	}
}

func mcpGetCall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		rec, err := deps.Store.GetCall(id)
		if err != nil {
			return mcpError(fmt.Sprintf("call %s: %v", id, err)), nil
		}
		return mcpJSON(toCallView(rec, true))
	}
}

func mcpSearchCalls(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", 5)
		if limit <= 0 || limit > 25 {
			limit = 5
		}

		records, err := deps.Store.SearchCalls(query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("searching calls: %v", err)), nil
		}
		if len(records) == 0 {
			return mcpText(fmt.Sprintf("No calls match %q.", query)), nil
		}

		views := make([]callView, len(records))
		for i, rec := range records {
			views[i] = toCallView(rec, false)
		}
		return mcpJSON(views)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
