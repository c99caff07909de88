// Package main is the entry point of the crewd CLI.
package main

import (
	"fmt"
	"os"

	"github.com/dmarchetti/crewd/cmd/crewd/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(commands.ExitCode(err))
	}
}
