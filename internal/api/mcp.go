package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/xyrax/instra/internal/features"
)

// NewMCPServer creates an MCP server exposing the analyzer and strategist
// as tools.
func NewMCPServer(app *App, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"instra",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("instra predicts Instagram post reach and answers growth questions grounded in a session's analyzed posts."),
		server.WithRecovery(),
	)

	opts := []mcp.ToolOption{
		mcp.WithDescription("Predict impressions and viral score for one post and store it in the session history. At least three metrics are required."),
		mcp.WithString("session_key", mcp.Description("Session to append the post to; a new session is started when omitted")),
	}
	for _, name := range features.Names()[:features.SaveToLikeRatio] {
		opts = append(opts, mcp.WithNumber(name, mcp.Description("Post "+name+" count"), mcp.Min(0)))
	}
	s.AddTool(mcp.NewTool("analyze_post", opts...), mcpAnalyzePost(app))

	s.AddTool(
		mcp.NewTool("ask_strategist",
			mcp.WithDescription("Ask the growth strategist a question about the session's posts."),
			mcp.WithString("message", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("session_key", mcp.Description("Session whose posts ground the answer")),
		),
		mcpAskStrategist(app),
	)

	s.AddTool(
		mcp.NewTool("post_history",
			mcp.WithDescription("List the analyzed posts of a session, oldest first."),
			mcp.WithString("session_key", mcp.Description("Session key"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Return only the most recent N posts")),
		),
		mcpPostHistory(app),
	)

	return s
}

// metricsFromArgs reads the counters present in a tool call. Absent
// arguments stay nil so the input-count check sees them as missing.
func metricsFromArgs(req mcp.CallToolRequest) features.PostMetrics {
	var m features.PostMetrics
	args := req.GetArguments()
	for _, name := range features.Names()[:features.SaveToLikeRatio] {
		if _, ok := args[name]; !ok {
			continue
		}
		*m.Field(name) = features.Int(req.GetInt(name, 0))
	}
	return m
}

func mcpAnalyzePost(app *App) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := app.Analyze(ctx, req.GetString("session_key", ""), metricsFromArgs(req))
		if err != nil {
			return mcpError(fmt.Sprintf("analysis failed: %v", err)), nil
		}
		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal analysis: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAskStrategist(app *App) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil || message == "" {
			return mcpError("message is required"), nil
		}
		reply, err := app.Ask(ctx, req.GetString("session_key", ""), message, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("strategist failed: %v", err)), nil
		}
		return mcpText(reply.Text), nil
	}
}

func mcpPostHistory(app *App) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		session, err := req.RequireString("session_key")
		if err != nil || session == "" {
			return mcpError("session_key is required"), nil
		}
		posts, err := app.History(session)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list posts: %v", err)), nil
		}
		if limit := req.GetInt("limit", 0); limit > 0 && len(posts) > limit {
			posts = posts[len(posts)-limit:]
		}
		b, err := json.Marshal(posts)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal posts: %v", err)), nil
		}
		return mcpText(string(b)), nil
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
