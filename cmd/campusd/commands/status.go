package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjtu-chatbot/campusd/internal/auth"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := auth.Get()
		defer manager.Shutdown()

		snap, err := manager.Snapshot()
		if err != nil {
			fmt.Println("Not logged in")
			return nil
		}

		fmt.Printf("Logged in as %s (since %s)\n",
			snap.Username, snap.EstablishedAt.Format(time.RFC3339))

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		alive, err := manager.Client().ProbeSession(ctx, snap)
		switch {
		case err != nil:
			fmt.Printf("Portal check failed: %v\n", err)
		case alive:
			fmt.Println("Portal session: alive")
		default:
			fmt.Println("Portal session: expired")
			manager.Invalidate()
		}
		return nil
	},
}
