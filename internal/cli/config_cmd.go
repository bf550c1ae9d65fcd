// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/whisper/internal/config"
	"github.com/jeranaias/whisper/internal/util"
)

func (a *App) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
		Long: `Show or change settings in the config file.

Keys use dot notation, e.g. history.page_size or provider.openai_base_url.
API keys are managed with "whisper key".`,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show every setting",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(ctx context.Context, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			for _, key := range config.AllKeys() {
				v, err := cfg.Get(key)
				if err != nil {
					continue
				}
				fmt.Fprintf(a.out, "%s %s\n", util.PadRight(key, 30), formatValue(v))
			}
			return nil
		}),
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(ctx context.Context, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			v, err := cfg.Get(args[0])
			if err != nil {
				return &NotFoundError{Resource: "setting", ID: args[0]}
			}
			fmt.Fprintln(a.out, formatValue(v))
			return nil
		}),
	}

	set := &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Change one setting",
		Args:    cobra.ExactArgs(2),
		Example: `  whisper config set storage.backend bolt
  whisper config set server.allowed_origins "chrome-extension://*,https://leetcode.com"`,
		RunE: a.runE(func(ctx context.Context, args []string) error {
			path, err := a.resolvedConfigPath()
			if err != nil {
				return err
			}
			// Edit the file's own contents so environment overrides stay out.
			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return NewValidationErrorWithExample("key", args[0], err.Error(), "whisper config list")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.SaveTOML(cfg, path); err != nil {
				return err
			}
			a.cfg = nil
			fmt.Fprintf(a.out, "%s %s = %s\n", RenderStatus("ok"), args[0], args[1])
			return nil
		}),
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.resolvedConfigPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}

	cmd.AddCommand(list, get, set, path)
	return cmd
}

func (a *App) resolvedConfigPath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.ConfigPath()
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case []string:
		return strings.Join(t, ",")
	case string:
		if t == "" {
			return `""`
		}
		return t
	default:
		return fmt.Sprint(v)
	}
}
