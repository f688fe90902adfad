package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/pagegeneral/internal/query"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Query *query.Service
	TopK  int // default passage count
}

// NewMCPServer creates an MCP server exposing the division index as tools
// and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.TopK <= 0 {
		deps.TopK = 5
	}

	s := server.NewMCPServer(
		"pagegeneral",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pagegeneral indexes military history books by the divisions each paragraph mentions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_passages",
			mcp.WithDescription("Semantically search ingested books, optionally within one division."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("division", mcp.Description("Division identifier, e.g. 24")),
			mcp.WithString("book", mcp.Description("Book id to search in")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of passages (default 5)")),
		),
		mcpSearchPassages(deps),
	)

	s.AddTool(
		mcp.NewTool("division_summary",
			mcp.WithDescription("Count the paragraphs that reference each division."),
			mcp.WithString("book", mcp.Description("Book id; all ready books when omitted")),
		),
		mcpDivisionSummary(deps),
	)

	s.AddTool(
		mcp.NewTool("list_books",
			mcp.WithDescription("List the books that are ready for search."),
		),
		mcpListBooks(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_division",
			mcp.WithDescription("Answer a question about a division from the indexed passages, with citations."),
			mcp.WithString("question", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("division", mcp.Description("Division identifier"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Passages to ground the answer on (default 5)")),
		),
		mcpAskDivision(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"divisions://summary",
			"Division Summary",
			mcp.WithResourceDescription("Division counts across all ready books"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSummary(deps),
	)

	return s
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}

func mcpSearchPassages(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := clampLimit(req.GetInt("limit", deps.TopK), deps.TopK)

		passages, err := deps.Query.Search(ctx, q, req.GetString("book", ""), req.GetString("division", ""), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcpJSON(passages)
	}
}

func mcpDivisionSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sum, err := deps.Query.Summary(ctx, req.GetString("book", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("summary failed: %v", err)), nil
		}
		return mcpJSON(sum)
	}
}

func mcpListBooks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		books, err := deps.Query.ListBooks()
		if err != nil {
			return mcpError(fmt.Sprintf("listing books failed: %v", err)), nil
		}
		if len(books) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(books)
	}
}

func mcpAskDivision(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		division, err := req.RequireString("division")
		if err != nil {
			return mcpError("division is required"), nil
		}
		limit := clampLimit(req.GetInt("limit", deps.TopK), deps.TopK)

		ans, err := deps.Query.Ask(ctx, question, division, limit)
		if errors.Is(err, query.ErrNoLLM) {
			return mcpError("answering not available: no language model configured"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpJSON(ans)
	}
}

func mcpResourceSummary(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sum, err := deps.Query.Summary(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to summarise divisions: %w", err)
		}

		b, err := json.Marshal(sum)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal summary: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
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
