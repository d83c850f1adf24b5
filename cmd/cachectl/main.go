package main

import (
	"fmt"
	"os"

	"github.com/goliatone/go-cache-connector/internal/cli/commands"
)

// Set by ldflags
var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := commands.NewRootCmd()
	root.Version = fmt.Sprintf("%s (commit: %s)", version, commit)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
