// Package commands provides the CLI commands for campusd.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sjtu-chatbot/campusd/internal/auth"
	"github.com/sjtu-chatbot/campusd/internal/config"
	"github.com/sjtu-chatbot/campusd/internal/logging"
)

var (
	// Version information set at build time
	Version   = "1.0.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
)

// cfg is loaded once in the root PersistentPreRunE and shared by all
// subcommands.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "campusd",
	Short: "campusd - campus SSO session manager and MCP tool server",
	Long: `campusd keeps an authenticated campus SSO session alive and exposes
campus resources (news, mail, academic system, activities) as MCP tools.

Run 'campusd login' to authenticate, then 'campusd serve' to start the
MCP HTTP server or 'campusd mcp' for the stdio transport.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A .env next to the binary is a convenience for development.
		godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		level := cfg.Log.Level
		if cmd.Flags().Changed("log-level") || level == "" {
			level = logLevel
		}

		var out io.Writer = os.Stderr
		if !printLogs {
			out = io.Discard
		}
		logging.Init(logging.Config{
			Level:  logging.ParseLevel(level),
			Output: out,
			Pretty: cfg.Log.Pretty,
		})

		auth.Configure(cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("campusd %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(toolsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
