package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/systemaudit/winstaller/internal/api"
	"github.com/systemaudit/winstaller/internal/config"
	"github.com/systemaudit/winstaller/internal/installer"
	"github.com/systemaudit/winstaller/internal/ledger"
	"github.com/systemaudit/winstaller/internal/notify"
	"github.com/systemaudit/winstaller/internal/remote"
	"github.com/systemaudit/winstaller/internal/users"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		Long: `Starts the Winstaller REST API with background maintenance sweeps.

If a chat bot token is configured, the server also connects the chat
adapter so API-started installations can deliver RDP credentials by DM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Winstaller config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.API.Port = port
	}

	led := ledger.New(gormDB)
	store := users.NewStore(users.Opts{
		DB:             gormDB,
		ActivationCode: cfg.Auth.ActivationCode,
		SessionTTL:     time.Duration(cfg.Cleanup.SessionHours) * time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	// DM delivery is optional for the API server. Without a bot token,
	// installations still run but credentials are only readable via the API.
	var sink notify.Sink
	if cfg.Chat.BotToken != "" {
		adapter, err := createAdapter(cfg)
		if err != nil {
			return err
		}
		if err := adapter.Connect(ctx); err != nil {
			return fmt.Errorf("connect chat adapter: %w", err)
		}
		defer adapter.Close()
		sink = adapter
		fmt.Fprintf(out, "Chat adapter connected (%s), DM delivery enabled\n", cfg.Chat.Platform)
	}

	ins := installer.New(installer.Opts{
		Ledger:    led,
		Users:     store,
		Remote:    remote.NewClient(cfg.SSH, cfg.Images),
		Publisher: notify.NewPublisher(notify.Opts{Sink: sink, Resolve: store.ChatIDFor}),
		Install:   cfg.Install,
	})

	sched, err := startSweeps(cfg, led, store, out)
	if err != nil {
		return err
	}
	defer sched.Stop()

	srv, err := api.NewServer(api.Opts{
		Users:     store,
		Ledger:    led,
		Installer: ins,
		Config:    cfg.API,
		Out:       out,
	})
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

// startSweeps schedules the stuck-run and retention sweeps from the
// cleanup config and starts the scheduler.
func startSweeps(cfg *config.Config, led *ledger.Ledger, store *users.Store, out io.Writer) (*cron.Cron, error) {
	sched := cron.New()

	_, err := sched.AddFunc(cfg.Cleanup.StuckSweepCron, func() {
		if n, err := led.SweepStuck(cfg.Install.RunTimeout()); err != nil {
			fmt.Fprintf(out, "sweep: stuck: %v\n", err)
		} else if n > 0 {
			fmt.Fprintf(out, "sweep: timed out %d stuck installations\n", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule stuck sweep %q: %w", cfg.Cleanup.StuckSweepCron, err)
	}

	_, err = sched.AddFunc(cfg.Cleanup.RetentionCron, func() {
		if n, err := led.SweepCompleted(time.Duration(cfg.Cleanup.OldInstallDays) * 24 * time.Hour); err != nil {
			fmt.Fprintf(out, "sweep: retention: %v\n", err)
		} else if n > 0 {
			fmt.Fprintf(out, "sweep: deleted %d old installations\n", n)
		}
		if n, err := led.SweepLogs(time.Duration(cfg.Cleanup.OldLogDays) * 24 * time.Hour); err != nil {
			fmt.Fprintf(out, "sweep: logs: %v\n", err)
		} else if n > 0 {
			fmt.Fprintf(out, "sweep: deleted %d old log lines\n", n)
		}
		if n, err := store.SweepSessions(); err != nil {
			fmt.Fprintf(out, "sweep: sessions: %v\n", err)
		} else if n > 0 {
			fmt.Fprintf(out, "sweep: closed %d expired sessions\n", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule retention sweep %q: %w", cfg.Cleanup.RetentionCron, err)
	}

	sched.Start()
	return sched, nil
}
