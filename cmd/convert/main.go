package main

import (
	"os"

	"github.com/mattjoyce/convert/cmd/convert/commands"
)

// Set at build time with -ldflags.
var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	commands.SetVersionInfo(version, gitCommit, buildDate)
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
