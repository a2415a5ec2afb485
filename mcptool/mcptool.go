// Package mcptool exposes the pipeline as Model Context Protocol tools over
// stdio, so assistants can ask data questions directly.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Lina-go/backend-delfos-sub000/cache"
	"github.com/Lina-go/backend-delfos-sub000/engine"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// Asker resolves one question.
type Asker interface {
	Process(ctx context.Context, req engine.Request) (*engine.Response, error)
}

// StatsSource reports cache statistics.
type StatsSource interface {
	CacheStats() map[string]cache.Stats
}

// AskTool handles the ask_data tool.
type AskTool struct {
	asker Asker
}

// NewAskTool creates an AskTool backed by asker.
func NewAskTool(asker Asker) *AskTool {
	return &AskTool{asker: asker}
}

// Definition returns the MCP tool definition for ask_data.
func (t *AskTool) Definition() mcp.Tool {
	return mcp.NewTool("ask_data",
		mcp.WithDescription(
			"Answer a natural-language question about the financial data warehouse. "+
				"Returns the formatted response: rows, chart kind, insight and the SQL that produced them.",
		),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question, in Spanish or English"),
		),
		mcp.WithString("user_id",
			mcp.Description("Conversation owner; follow-up questions share context per user"),
		),
	)
}

// Handle processes the ask_data tool call. Pipeline failures are returned
// as tool errors carrying the structured error response.
func (t *AskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question := req.GetString("question", "")
	if question == "" {
		return mcp.NewToolResultError("'question' is required"), nil
	}

	resp, err := t.asker.Process(ctx, engine.Request{
		UserID:  req.GetString("user_id", ""),
		Message: question,
	})
	if err != nil {
		body, _ := json.Marshal(engine.ErrorResponse("", err))
		return mcp.NewToolResultError(string(body)), nil
	}

	body, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

// StatsTool handles the cache_stats tool.
type StatsTool struct {
	source StatsSource
}

// NewStatsTool creates a StatsTool backed by source.
func NewStatsTool(source StatsSource) *StatsTool {
	return &StatsTool{source: source}
}

// Definition returns the MCP tool definition for cache_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("cache_stats",
		mcp.WithDescription("Show hit rates and sizes of the answer and schema caches."),
	)
}

// Handle processes the cache_stats tool call.
func (t *StatsTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := json.MarshalIndent(t.source.CacheStats(), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode stats: %v", err)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

// Pipeline is what the MCP server needs from the engine.
type Pipeline interface {
	Asker
	StatsSource
}

// NewServer creates an MCP server with every tool registered.
func NewServer(p Pipeline) *server.MCPServer {
	s := server.NewMCPServer(
		"delfos",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Use ask_data for any question about balances, portfolios, rates or rankings of financial entities."),
	)

	ask := NewAskTool(p)
	s.AddTool(ask.Definition(), ask.Handle)

	stats := NewStatsTool(p)
	s.AddTool(stats.Definition(), stats.Handle)

	return s
}

// ServeStdio serves the MCP protocol on stdin/stdout until the client
// disconnects.
func ServeStdio(p Pipeline) error {
	return server.ServeStdio(NewServer(p))
}
