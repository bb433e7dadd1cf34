package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjtu-chatbot/campusd/internal/auth"
	"github.com/sjtu-chatbot/campusd/internal/config"
	"github.com/sjtu-chatbot/campusd/internal/logging"
	"github.com/sjtu-chatbot/campusd/internal/portal"
	"github.com/sjtu-chatbot/campusd/internal/server"
	"github.com/sjtu-chatbot/campusd/internal/tool"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP HTTP server",
	Long: `Start campusd as an MCP streamable HTTP server.

The server answers MCP initialize/tools requests on /mcp, reports login
state on /health and streams internal events on /event. A background
monitor probes the portal session and re-prompts for login when it
expires.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.GetPaths().EnsurePaths(); err != nil {
		return err
	}

	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}

	manager := auth.Get()
	defer manager.Shutdown()

	registry, err := tool.BuildDefault()
	if err != nil {
		return err
	}
	dispatcher := tool.NewDispatcher(registry, manager)

	// Expired sessions are renewed interactively on the server terminal.
	manager.StartMonitor(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := manager.EnsureLoggedIn(ctx, nil, portal.PromptSolver(os.Stdin, os.Stdout)); err != nil {
			logging.Error().Err(err).Msg("session renewal failed")
		}
	})

	srv := server.New(cfg.Server, manager, dispatcher)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
