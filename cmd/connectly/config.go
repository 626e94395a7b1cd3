// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration that serve would use, after applying the
config file and flags, as YAML. Secrets are redacted. Exits non-zero if the
configuration is invalid.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, _ = cmd.OutOrStdout().Write(out)

			if err := cfg.Validate(); err != nil {
				return oops.With("operation", "validate config").Wrap(err)
			}
			return nil
		},
	}
}
