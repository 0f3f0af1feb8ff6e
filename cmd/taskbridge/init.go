package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcrlabs/taskbridge/internal/config"
)

func newInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "path to config file")
	return cmd
}

func runInit(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	cfg := config.DefaultConfig()
	cfg.Telegram.BotToken = "${TELEGRAM_BOT_TOKEN}"
	cfg.Asana.AccessToken = "${ASANA_ACCESS_TOKEN}"
	cfg.Asana.WorkspaceID = "${ASANA_WORKSPACE_ID}"
	cfg.Asana.Projects = []*config.ProjectConfig{
		{Name: "Inbox", GID: "1200000000000000"},
	}
	cfg.OpenAI.APIKey = "${OPENAI_API_KEY}"

	if err := config.Save(cfg, configPath); err != nil {
		return err
	}

	fmt.Printf("✅ Config written to %s\n", configPath)
	fmt.Println("Edit it to set your bot token, Asana credentials and project list.")
	return nil
}
