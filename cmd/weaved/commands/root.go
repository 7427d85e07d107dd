package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags, resolved in openPersona; only an empty --home falls back
	// to an environment variable ($WEAVE_HOME).
	flagHome       string
	flagPersonaID  string
	flagLLMModel   string
	flagEmbedModel string
	flagBaseURL    string
	flagVerbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "weaved",
	Short: "Memory Weave engine CLI",
	Long: `weaved drives a persona's Memory Weave store from the command line:
append messages, generate Chronicle entries, run Memopedia deep-research,
and back up the persona database.

A persona's data lives at {home}/personas/{persona}/memory.db. --home and
--persona select which one a command operates against.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "SAIVerse home directory (default: $WEAVE_HOME or ./saiverse_home)")
	rootCmd.PersistentFlags().StringVar(&flagPersonaID, "persona", "", "persona id (required)")
	rootCmd.PersistentFlags().StringVar(&flagLLMModel, "llm-model", "gpt-4o-mini", "chat model for Chronicle/Memopedia generation")
	rootCmd.PersistentFlags().StringVar(&flagEmbedModel, "embed-model", "", "embedding model (default: text-embedding-3-small)")
	rootCmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "OpenAI-compatible API base URL (default: OpenAI's own)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(chronicleCmd)
	rootCmd.AddCommand(memopediaCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(serveCmd)
}
