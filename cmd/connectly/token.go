// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/connectly/connectly/internal/auth"
	"github.com/connectly/connectly/internal/presence"
)

// NewTokenCmd creates the token subcommand.
func NewTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user>",
		Short: "Issue a bearer token for a user",
		Long: `Issue an HS256 token for the given user identity, signed with the
configured auth secret. Intended for development and testing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			token, err := auth.NewIssuer([]byte(cfg.Auth.Secret), cfg.Auth.Issuer).Issue(presence.UserID(args[0]), ttl)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: auth.token_ttl)")
	return cmd
}
