// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/whisper/internal/logging"
)

// Build information, set via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// NewRootCommand builds the whisper command tree.
func NewRootCommand() *cobra.Command {
	return newApp().rootCommand()
}

func (a *App) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "whisper",
		Short: "Step-by-step hints for coding interview problems",
		Long: `whisper asks a chat model for hints on the problem you are solving.

Replies come back as feedback, a short list of hints and at most one code
snippet. Conversations are kept per problem so you can pick up where you
left off, from the terminal or from the browser extension via "whisper serve".`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.in = cmd.InOrStdin()
			a.out = cmd.OutOrStdout()
			a.errOut = cmd.ErrOrStderr()
			logging.SetOutput(a.errOut)
			logging.SetVerbose(a.verbose)
			return nil
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $WHISPER_HOME/config.toml or ~/.whisper/config.toml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&a.topic, "topic", "", "conversation topic, or a problem page URL to derive it from")
	flags.StringVar(&a.storeName, "store", "", "history backend for this run: memory, file, sqlite or bolt")
	flags.StringVar(&a.color, "color", "", "color output: auto, always or never (default from config)")

	root.AddCommand(
		a.askCommand(),
		a.chatCommand(),
		a.historyCommand(),
		a.clearCommand(),
		a.topicCommand(),
		a.exportCommand(),
		a.modelsCommand(),
		a.keyCommand(),
		a.configCommand(),
		a.serveCommand(),
		a.versionCommand(),
	)
	return root
}

func (a *App) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "whisper %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		},
	}
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		DisplayError(cmd.ErrOrStderr(), err, false)
		return GetExitCode(err)
	}
	return ExitSuccess
}
