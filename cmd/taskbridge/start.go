package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcrlabs/taskbridge/internal/adapters/asana"
	"github.com/rcrlabs/taskbridge/internal/adapters/telegram"
	"github.com/rcrlabs/taskbridge/internal/ai"
	"github.com/rcrlabs/taskbridge/internal/bot"
	"github.com/rcrlabs/taskbridge/internal/config"
	"github.com/rcrlabs/taskbridge/internal/logging"
	"github.com/rcrlabs/taskbridge/internal/pipeline"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "path to config file")
	return cmd
}

func runStart(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.Debug("Configuration loaded", "path", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tgClient := telegram.NewClient(cfg.Telegram.BotToken)

	// Refuse to start if another instance is already polling this token
	if err := tgClient.CheckSingleton(ctx); err != nil {
		if errors.Is(err, telegram.ErrConflict) {
			return fmt.Errorf("another taskbridge instance is already running with this bot token")
		}
		return fmt.Errorf("telegram connectivity check failed: %w", err)
	}

	if err := tgClient.SetMyCommands(ctx, bot.Commands()); err != nil {
		logging.Warn("Failed to register bot commands", "error", err)
	}

	asanaClient := asana.NewClient(cfg.Asana.AccessToken, cfg.Asana.WorkspaceID)
	if err := asanaClient.Ping(ctx); err != nil {
		logging.Error("Asana connectivity check failed", "error", err)
		return fmt.Errorf("asana connectivity check failed: %w", err)
	}

	aiClient := ai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)

	store := pipeline.NewStore(pipeline.Config{
		Debounce:         cfg.Pipeline.Debounce,
		TitleLookback:    cfg.Pipeline.TitleLookback,
		DraftTTL:         cfg.Pipeline.DraftTTL,
		MaxRecentPrompts: cfg.Pipeline.MaxRecentPrompts,
	}, nil)

	assembler := pipeline.NewAssembler(store, aiClient, asanaClient, tgClient)
	handler := bot.NewHandler(tgClient, store, assembler, cfg.Asana.Projects, cfg.Telegram.AllowedIDs)
	transport := bot.NewTransport(tgClient, handler, store)

	logging.Info("taskbridge started",
		"version", version,
		"projects", len(cfg.Asana.Projects))
	fmt.Println("🤖 taskbridge is running. Press Ctrl+C to stop.")

	transport.StartPolling(ctx)

	<-ctx.Done()
	fmt.Println("\n🛑 Shutting down...")
	transport.Stop()
	logging.Info("taskbridge stopped")

	return nil
}
