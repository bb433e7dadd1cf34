package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sjtu-chatbot/campusd/internal/auth"
	"github.com/sjtu-chatbot/campusd/internal/config"
	"github.com/sjtu-chatbot/campusd/internal/portal"
)

var (
	loginUsername string
	loginPassword string
	loginForce    bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the campus SSO portal",
	Long: `Log in to the campus SSO portal and persist the session.

Credentials are prompted interactively unless --username and --password
are given. The captcha image is written to the cache directory and its
path printed; type the characters you see to continue.`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "Portal username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "", "", "Portal password (prompted when omitted)")
	loginCmd.Flags().BoolVarP(&loginForce, "force", "f", false, "Re-authenticate even when already logged in")
}

func runLogin(cmd *cobra.Command, args []string) error {
	if err := config.GetPaths().EnsurePaths(); err != nil {
		return err
	}

	manager := auth.Get()
	defer manager.Shutdown()

	ctx := cmd.Context()

	var creds *portal.Credentials
	if loginUsername != "" && loginPassword != "" {
		creds = &portal.Credentials{Username: loginUsername, Password: loginPassword}
	}

	var err error
	if loginForce && creds != nil {
		err = manager.Relogin(ctx, *creds, nil)
	} else {
		if loginForce {
			manager.Invalidate()
		}
		err = manager.EnsureLoggedIn(ctx, creds, nil)
	}
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	snap, err := manager.Snapshot()
	if err != nil {
		return err
	}
	fmt.Printf("Logged in as %s\n", snap.Username)
	return nil
}
