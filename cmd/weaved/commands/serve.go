package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var serveAddr string

// serveCmd is a placeholder for the HTTP boundary described in §6: the
// endpoint table (message, recall, chronicle, memopedia, job, backup
// routes) is a thin transport layer over the components wired in env.go,
// not part of this engine's core; wiring an actual net/http.Server is left
// to the service that embeds this module.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "(stub) serve the HTTP boundary over a persona's engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("serve is not implemented in this engine; wire internal/message, internal/recall, internal/chronicle, internal/memopedia, internal/jobs, and internal/backup behind your own HTTP router listening on %s", serveAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
}
