package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stridelabs/stride/internal/conversation"
	"github.com/stridelabs/stride/internal/memory"
)

// MCPDeps holds dependencies for the MCP server. Owner is the user id all
// MCP operations are scoped to; MCP clients are local single-user tools.
type MCPDeps struct {
	Memory        *memory.Store
	Conversations *conversation.Store
	Owner         string
}

// NewMCPServer exposes the memory store over MCP so local agents can share
// the same long-term memory as the chat endpoint.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Owner == "" {
		deps.Owner = DefaultOwnerID
	}

	s := server.NewMCPServer(
		"stride",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("stride — long-term user memory for coaching conversations: store facts, recall them semantically, search by tag or key."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("memory_store",
			mcp.WithDescription("Store a fact about the user. Upserts by key: storing the same key again overwrites the previous value and tags."),
			mcp.WithString("key", mcp.Description("Short semantic label for the memory"), mcp.Required()),
			mcp.WithString("value", mcp.Description("The free-text content to remember"), mcp.Required()),
			mcp.WithArray("tags", mcp.Description("Optional tags for categorization")),
		),
		mcpMemoryStore(deps),
	)

	s.AddTool(
		mcp.NewTool("memory_recall",
			mcp.WithDescription("Semantically search stored memories and return the entries most similar to the query."),
			mcp.WithString("query", mcp.Description("What to look for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpMemoryRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("memory_search_tags",
			mcp.WithDescription("Return memories carrying any of the given tags, most recent first."),
			mcp.WithArray("tags", mcp.Description("Tags to match; any single match qualifies"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpMemorySearchTags(deps),
	)

	s.AddTool(
		mcp.NewTool("memory_search_key",
			mcp.WithDescription("Look up memories by key, either exact or substring match, most recent first."),
			mcp.WithString("pattern", mcp.Description("Key or key fragment to match"), mcp.Required()),
			mcp.WithBoolean("exact", mcp.Description("Require an exact key match instead of substring")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpMemorySearchKey(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"stride://conversations/recent",
			"Recent Conversations",
			mcp.WithResourceDescription("Most recently active conversations (titles only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceConversations(deps),
	)

	return s
}

func mcpMemoryStore(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}
		tags := req.GetStringSlice("tags", nil)

		if err := deps.Memory.Upsert(ctx, deps.Owner, memory.Entry{Key: key, Value: value, Tags: tags}); err != nil {
			return mcpError(fmt.Sprintf("failed to store: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored memory %q", key)), nil
	}
}

func mcpMemoryRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", memory.DefaultSimilarLimit)
		if limit <= 0 {
			limit = memory.DefaultSimilarLimit
		}
		if limit > 50 {
			limit = 50
		}

		results, err := deps.Memory.Similar(ctx, deps.Owner, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		return mcpRecords(results)
	}
}

func mcpMemorySearchTags(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tags := req.GetStringSlice("tags", nil)
		if len(tags) == 0 {
			return mcpError("tags is required"), nil
		}

		limit := req.GetInt("limit", memory.DefaultSearchLimit)
		results, err := deps.Memory.ByTags(ctx, deps.Owner, tags, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("tag search failed: %v", err)), nil
		}
		return mcpRecords(results)
	}
}

func mcpMemorySearchKey(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pattern, err := req.RequireString("pattern")
		if err != nil {
			return mcpError("pattern is required"), nil
		}
		exact := req.GetBool("exact", false)

		limit := req.GetInt("limit", memory.DefaultSearchLimit)
		results, err := deps.Memory.ByKey(ctx, deps.Owner, pattern, exact, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("key search failed: %v", err)), nil
		}
		return mcpRecords(results)
	}
}

func mcpRecords(results []memory.Record) (*mcp.CallToolResult, error) {
	if len(results) == 0 {
		return mcpText("[]"), nil
	}
	b, err := json.Marshal(results)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpResourceConversations(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		convs, err := deps.Conversations.List(ctx, deps.Owner)
		if err != nil {
			return nil, fmt.Errorf("failed to list conversations: %w", err)
		}

		type conversationSummary struct {
			ID            string `json:"id"`
			Title         string `json:"title"`
			LastMessageAt string `json:"last_message_at"`
		}

		limit := len(convs)
		if limit > 10 {
			limit = 10
		}
		summaries := make([]conversationSummary, limit)
		for i, c := range convs[:limit] {
			title := c.Title
			if utf8.RuneCountInString(title) > 200 {
				runes := []rune(title)
				title = string(runes[:200]) + "..."
			}
			summaries[i] = conversationSummary{
				ID:            c.ID,
				Title:         title,
				LastMessageAt: c.LastMessageAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal conversations: %w", err)
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
