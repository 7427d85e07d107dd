// Command weaved is the CLI front door to the Memory Weave engine: ingest
// messages, run Chronicle/Memopedia generation, trigger backups, and (as a
// stub) serve the HTTP boundary described in §6.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/saiverse/memoryweave/cmd/weaved/commands"
)

func main() {
	// .env is a dev-only convenience; a missing file is not an error, and
	// real deployments are expected to set the environment directly.
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
