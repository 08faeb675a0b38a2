package main

import (
	"github.com/snarg/transcribe-api/internal/config"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var overrides config.Overrides

	rootCmd := &cobra.Command{
		Use:           "transcribe-api",
		Short:         "HTTP gateway for short-audio transcription",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), overrides)
		},
	}

	rootCmd.PersistentFlags().StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default .env)")
	rootCmd.PersistentFlags().StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(newServeCommand(&overrides))
	rootCmd.AddCommand(newProbeCommand())
	rootCmd.AddCommand(newTokenCommand())

	return rootCmd
}
