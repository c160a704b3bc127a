// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"
)

const serviceName = "playfieldguard"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the PlayfieldGuard CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playfieldguard",
		Short: "PlayfieldGuard - faction home world access control",
		Long: `PlayfieldGuard watches players moving between playfields on a game host
and sends anyone entering another faction's home world back where they came from.`,
		SilenceUsage: true,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/playfieldguard/config.yaml)")

	// Add subcommands
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewValidateConfigCmd())
	cmd.AddCommand(NewInitConfigCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}
