package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	ingestThreadID   string
	ingestRole       string
	ingestResourceID string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <content>",
	Short: "Append a message to a thread, chunking and embedding it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestThreadID == "" {
			return fmt.Errorf("--thread is required")
		}

		env, err := openPersona()
		if err != nil {
			return err
		}
		defer env.close()

		id, err := env.messages.AppendMessage(cmd.Context(), ingestThreadID, ingestRole, args[0], ingestResourceID, 0, "")
		if err != nil {
			return fmt.Errorf("append message: %w", err)
		}

		fmt.Printf("Appended message %s to thread %s\n", id, ingestThreadID)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestThreadID, "thread", "", "thread id (required)")
	ingestCmd.Flags().StringVar(&ingestRole, "role", "user", "message role: user, assistant, system, model")
	ingestCmd.Flags().StringVar(&ingestResourceID, "resource", "", "resource id, defaults to the thread's persona")
}
