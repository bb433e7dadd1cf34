package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sjtu-chatbot/campusd/internal/tool"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the available tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := tool.BuildDefault()
		if err != nil {
			return err
		}
		for _, t := range registry.List() {
			login := ""
			if t.RequiresLogin() {
				login = " (login required)"
			}
			fmt.Printf("%s%s\n    %s\n", t.Name(), login, t.Description())
		}
		return nil
	},
}
