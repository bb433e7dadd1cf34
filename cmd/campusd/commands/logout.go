package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sjtu-chatbot/campusd/internal/auth"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and discard the persisted session",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := auth.Get()
		defer manager.Shutdown()

		if !manager.IsLoggedIn() {
			fmt.Println("Not logged in")
			return nil
		}

		if err := manager.Logout(cmd.Context()); err != nil {
			// The local session is gone either way.
			fmt.Printf("Logged out (portal-side logout failed: %v)\n", err)
			return nil
		}
		fmt.Println("Logged out")
		return nil
	},
}
