// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"path/filepath"
	"sort"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/playfieldguard/internal/access"
	"github.com/holomush/playfieldguard/internal/config"
	"github.com/holomush/playfieldguard/internal/xdg"
)

// NewValidateConfigCmd creates the validate-config subcommand.
func NewValidateConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Check the configuration without connecting to the host",
		Long: `Load the configuration the same way run does, validate it, and read the
admin config if one is configured. Exits non-zero on the first problem.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidateConfig(cmd)
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func runValidateConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Options{Path: configFile, Flags: cmd.Flags()})
	if err != nil {
		if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Code() == config.CodeSchemaInvalid {
			cmd.PrintErrln("schema:", config.FormatSchemaError(err))
		}
		return oops.In("validate").Wrapf(err, "invalid configuration")
	}

	perms, err := access.LoadPermissionTable(cfg.AdminConfig)
	if err != nil {
		return oops.In("validate").Wrapf(err, "invalid admin config")
	}

	playfields := make([]string, 0, len(cfg.FactionHomeWorlds))
	for playfield := range cfg.FactionHomeWorlds {
		playfields = append(playfields, playfield)
	}
	sort.Strings(playfields)

	cmd.Println("Configuration OK")
	cmd.Printf("  fallback playfield: %s\n", cfg.FallbackPlayfield)
	cmd.Printf("  immune permission level: %d\n", cfg.ImmunePermissionLevel)
	for _, playfield := range playfields {
		cmd.Printf("  restricted: %s (faction %d)\n", playfield, cfg.FactionHomeWorlds[playfield])
	}
	if cfg.AdminConfig != "" {
		cmd.Printf("  elevated accounts: %d\n", perms.Len())
	}
	return nil
}

// NewInitConfigCmd creates the init-config subcommand.
func NewInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a starter config file",
		Long: `Write a commented starter config to --config, or to the default location
under XDG_CONFIG_HOME. An existing file is never overwritten.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configFile
			if path == "" {
				path = config.DefaultPath()
			}
			if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
				return oops.In("init-config").Wrap(err)
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			cmd.Printf("Wrote %s\n", path)
			return nil
		},
	}
}

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the config file JSON schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		},
	}
}
