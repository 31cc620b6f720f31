package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/systemaudit/winstaller/internal/config"
	"github.com/systemaudit/winstaller/internal/installer"
	"github.com/systemaudit/winstaller/internal/ledger"
	"github.com/systemaudit/winstaller/internal/notify"
	"github.com/systemaudit/winstaller/internal/remote"
	"github.com/systemaudit/winstaller/internal/telegraph"
	discordadapter "github.com/systemaudit/winstaller/internal/telegraph/discord"
	slackadapter "github.com/systemaudit/winstaller/internal/telegraph/slack"
	"github.com/systemaudit/winstaller/internal/users"
)

func newBotCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Start the chat bot daemon",
		Long:  "Connects to the configured chat platform and serves !wi commands for starting and tracking installations.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Winstaller config file")
	return cmd
}

func runBot(cmd *cobra.Command, configPath string) error {
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

	adapter, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	ins := installer.New(installer.Opts{
		Ledger:    led,
		Users:     store,
		Remote:    remote.NewClient(cfg.SSH, cfg.Images),
		Publisher: notify.NewPublisher(notify.Opts{Sink: adapter, Resolve: store.ChatIDFor}),
		Install:   cfg.Install,
	})

	sched, err := startSweeps(cfg, led, store, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer sched.Stop()

	daemon, err := telegraph.NewDaemon(telegraph.DaemonOpts{
		Users:     store,
		Ledger:    led,
		Installer: ins,
		Adapter:   adapter,
		Out:       cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return daemon.Run(ctx)
}

// createAdapter builds a platform adapter from the chat config.
func createAdapter(cfg *config.Config) (telegraph.Adapter, error) {
	switch cfg.Chat.Platform {
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken:  cfg.Chat.BotToken,
			ChannelID: cfg.Chat.ChannelID,
		})
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken:  cfg.Chat.AppToken,
			BotToken:  cfg.Chat.BotToken,
			ChannelID: cfg.Chat.ChannelID,
		})
	default:
		return nil, fmt.Errorf("chat: unsupported platform %q", cfg.Chat.Platform)
	}
}
