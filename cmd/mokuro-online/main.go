// Command mokuro-online is the OCR coordination service's server binary.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/mokuro-online/cmd/mokuro-online/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
