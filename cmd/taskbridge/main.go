package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskbridge",
		Short: "Turn forwarded chat messages into tracker tasks",
		Long:  `Taskbridge is a Telegram bot that batches forwarded messages, asks for a title, and files the result as an Asana task with an AI-polished title and description.`,
	}

	rootCmd.AddCommand(
		newStartCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show taskbridge version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("taskbridge v%s\n", version)
		},
	}
}
