package server

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sjtu-chatbot/campusd/internal/tool"
)

// NewStdioServer builds an MCP server speaking the stdio transport,
// bridging every registered tool to the dispatcher.
func NewStdioServer(dispatcher *tool.Dispatcher) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
	)

	for _, t := range dispatcher.Registry().List() {
		s.AddTool(
			mcp.NewToolWithRawSchema(t.Name(), t.Description(), t.Parameters()),
			stdioHandler(dispatcher, t.Name()),
		)
	}
	return s
}

// ServeStdio runs the stdio server until stdin closes.
func ServeStdio(dispatcher *tool.Dispatcher) error {
	return server.ServeStdio(NewStdioServer(dispatcher))
}

func stdioHandler(dispatcher *tool.Dispatcher, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
		}

		result := dispatcher.Invoke(ctx, name, args)
		if !result.Success {
			return mcp.NewToolResultError(result.Error), nil
		}
		return mcp.NewToolResultText(result.Data), nil
	}
}
