package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/saiverse/memoryweave/internal/backup"
)

var (
	backupStrategy     string
	backupForceFull    bool
	backupExternalTool string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up a persona's database",
}

var backupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backup, auto-selecting simple or incremental strategy",
	RunE: func(cmd *cobra.Command, args []string) error {
		var strategy backup.Strategy
		switch backupStrategy {
		case "simple":
			strategy = backup.StrategySimple
		case "incremental":
			strategy = backup.StrategyIncremental
		case "auto", "":
			strategy = backup.StrategyAuto
		default:
			return fmt.Errorf("--strategy must be one of simple, incremental, auto")
		}

		env, err := openPersona()
		if err != nil {
			return err
		}
		defer env.close()

		backupRoot := filepath.Join(env.cfg.SAIVerseHome, "backups")
		cfg := backup.Config{
			SimpleRoot:      filepath.Join(backupRoot, "saimemory_simple"),
			IncrementalRoot: filepath.Join(backupRoot, "saimemory_rdiff"),
			LockPath:        filepath.Join(backupRoot, "backup.lock"),
			LockWaitSec:     env.cfg.BackupLockWaitSec,
			Keep:            env.cfg.BackupGenerations,
			ExternalTool:    backupExternalTool,
		}
		runner := backup.NewRunner(flagPersonaID, env.db, cfg, env.log)

		result, err := runner.Run(strategy, backupForceFull)
		if err != nil {
			return fmt.Errorf("run backup: %w", err)
		}

		if result.Skipped {
			fmt.Printf("Backup unchanged, skipped (%s strategy): %s\n", result.Strategy, result.Path)
		} else {
			fmt.Printf("Backup written (%s strategy): %s\n", result.Strategy, result.Path)
		}
		return nil
	},
}

func init() {
	backupRunCmd.Flags().StringVar(&backupStrategy, "strategy", "auto", "backup strategy: simple, incremental, auto")
	backupRunCmd.Flags().BoolVar(&backupForceFull, "force-full", false, "archive the existing incremental repo and start fresh")
	backupRunCmd.Flags().StringVar(&backupExternalTool, "external-tool", "rdiff-backup", "external incremental-backup executable")

	backupCmd.AddCommand(backupRunCmd)
}
