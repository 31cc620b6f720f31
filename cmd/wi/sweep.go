package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/systemaudit/winstaller/internal/ledger"
	"github.com/systemaudit/winstaller/internal/users"
)

func newSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run maintenance sweeps once",
		Long: `Runs all maintenance sweeps and exits:

  - time out installations still running past the run timeout
  - delete finished installations older than the retention window
  - delete log lines older than the log retention window
  - close expired chat sessions

The API server runs the same sweeps on a schedule; this command is for
manual cleanup and cron-less deployments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Winstaller config file")
	return cmd
}

func runSweep(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	led := ledger.New(gormDB)
	store := users.NewStore(users.Opts{
		DB:             gormDB,
		ActivationCode: cfg.Auth.ActivationCode,
		SessionTTL:     time.Duration(cfg.Cleanup.SessionHours) * time.Hour,
	})

	stuck, err := led.SweepStuck(cfg.Install.RunTimeout())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Timed out %d stuck installations\n", stuck)

	old, err := led.SweepCompleted(time.Duration(cfg.Cleanup.OldInstallDays) * 24 * time.Hour)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted %d installations older than %d days\n", old, cfg.Cleanup.OldInstallDays)

	logs, err := led.SweepLogs(time.Duration(cfg.Cleanup.OldLogDays) * 24 * time.Hour)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted %d log lines older than %d days\n", logs, cfg.Cleanup.OldLogDays)

	sessions, err := store.SweepSessions()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Closed %d expired sessions\n", sessions)

	return nil
}
