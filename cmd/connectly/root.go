// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/connectly/connectly/internal/config"
	"github.com/connectly/connectly/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Connectly CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connectly",
		Short: "Connectly - presence and live message delivery",
		Long: `Connectly tracks which users have live connections, pushes the
online set to every connected client and delivers direct messages to the
recipient's open sessions in real time.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/connectly/config.yaml if present)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewTokenCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewWatchCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig reads the configuration for cmd from --config (or the XDG
// default file) and the flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		path = xdg.ConfigFile()
	}
	return config.Load(path, cmd.Flags())
}
