// Package main provides the entry point for the campusd CLI.
package main

import (
	"fmt"
	"os"

	"github.com/sjtu-chatbot/campusd/cmd/campusd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
