package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saiverse/memoryweave/internal/jobs"
)

var chronicleGenMaxMessages int

var chronicleCmd = &cobra.Command{
	Use:   "chronicle",
	Short: "Chronicle hierarchy generation",
}

var chronicleGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Summarize unprocessed messages into Chronicle entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openPersona()
		if err != nil {
			return err
		}
		defer env.close()

		registry := jobs.NewRegistry()
		job := registry.Create(flagPersonaID, jobs.KindChronicleGen)
		sup := jobs.NewSupervisor(cmd.Context(), registry)

		sup.Go(job, func(ctx context.Context) (int, error) {
			return env.chronicle.GenerateUnprocessed(ctx, chronicleGenMaxMessages, registry.CancelledFunc(job.ID))
		})

		if err := sup.Wait(); err != nil {
			return fmt.Errorf("generate chronicle: %w", err)
		}

		final, _ := registry.Get(job.ID)
		fmt.Printf("Chronicle generation complete: %d entries created\n", final.EntriesCreated)
		return nil
	},
}

func init() {
	chronicleGenerateCmd.Flags().IntVar(&chronicleGenMaxMessages, "max-messages", 0, "cap on messages processed this run (0 = no cap)")
	chronicleCmd.AddCommand(chronicleGenerateCmd)
}
