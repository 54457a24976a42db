// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jeranaias/luna-tui/internal/config"
)

// =============================================================================
// CONFIG COMMAND
// =============================================================================

func newConfigCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the configuration",
	}

	var output string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			switch output {
			case "toml":
				return toml.NewEncoder(cmd.OutOrStdout()).Encode(a.cfg)
			case OutputJSON, OutputYAML:
				return writeData(cmd.OutOrStdout(), output, a.cfg)
			}
			return usageErrorf("unsupported output format %q (want toml, json or yaml)", output)
		},
	}
	show.Flags().StringVarP(&output, "output", "o", "toml", "output format: toml, json or yaml")

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := configPath(opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := configPath(opts)
			if err != nil {
				return err
			}
			if _, err := os.Stat(p); err == nil && !force {
				return usageErrorf("%s already exists (use --force to overwrite)", p)
			}
			if err := config.SaveTOML(config.Default(), p); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("[OK]")+" wrote "+p)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	get := &cobra.Command{
		Use:     "get <key>",
		Short:   "Print one setting",
		Example: "  luna config get user.room",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			v, err := a.cfg.Get(args[0])
			if err != nil {
				return usageErrorf("%v", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}

	set := &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Change one setting in the config file",
		Example: "  luna config set ui.theme light\n  luna config set chat.internet_search true",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := configPath(opts)
			if err != nil {
				return err
			}
			cfg, err := loadFileOnly(p)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return usageErrorf("%v", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.SaveTOML(cfg, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", SuccessStyle.Render("[OK]"), args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(show, path, initCmd, get, set)
	return cmd
}

// configPath is --config or the default TOML path.
func configPath(opts *Options) (string, error) {
	if opts.ConfigFile != "" {
		return opts.ConfigFile, nil
	}
	if err := config.EnsureConfigDir(); err != nil {
		return "", err
	}
	return config.ConfigPathTOML()
}

// loadFileOnly reads p, or defaults when it does not exist yet. Command
// line flags are not applied.
func loadFileOnly(p string) (*config.Config, error) {
	cfg, err := config.LoadFromPath(p)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(p); errors.Is(statErr, os.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}
