package commands

import (
	"github.com/spf13/cobra"

	"github.com/sjtu-chatbot/campusd/internal/auth"
	"github.com/sjtu-chatbot/campusd/internal/config"
	"github.com/sjtu-chatbot/campusd/internal/server"
	"github.com/sjtu-chatbot/campusd/internal/tool"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP over stdio",
	Long: `Serve the tool set over the MCP stdio transport, for clients that
spawn campusd as a subprocess. Log output stays on stderr so stdout
carries only protocol frames.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	if err := config.GetPaths().EnsurePaths(); err != nil {
		return err
	}

	manager := auth.Get()
	defer manager.Shutdown()

	registry, err := tool.BuildDefault()
	if err != nil {
		return err
	}

	return server.ServeStdio(tool.NewDispatcher(registry, manager))
}
