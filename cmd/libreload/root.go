// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/libreload/internal/config"
	"github.com/holomush/libreload/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the libreload CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "libreload",
		Short: "libreload - hot reload shared libraries",
		Long: `libreload loads shared libraries through private shadow copies and
swaps in a new generation whenever the library file changes on disk,
without restarting the host process.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/libreload/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewResolveCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// loadConfig merges the config file with the command's flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the default logger for cfg. Records go to the
// command's error stream so tests can capture them.
func setupLogging(cmd *cobra.Command, cfg config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return logging.SetDefault(logging.Options{
		Service: "libreload",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	}), nil
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "libreload %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
