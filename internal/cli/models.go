// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/whisper/internal/config"
	"github.com/jeranaias/whisper/internal/provider"
	"github.com/jeranaias/whisper/internal/util"
)

// Credential sources reported by "models" and "key list".
const (
	credStored = "stored"
	credEnv    = "env"
	credNone   = "none"
)

// modelRow is one catalog entry with its local status. The key itself is
// never included, only its fingerprint.
type modelRow struct {
	provider.ModelInfo
	Selected    bool   `json:"selected"`
	Credential  string `json:"credential"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

func modelRows(keys *config.KeyStore) []modelRow {
	stored := map[string]bool{}
	for _, id := range keys.Stored() {
		stored[id] = true
	}
	selected := keys.Selection()

	var rows []modelRow
	for _, m := range provider.Catalog() {
		row := modelRow{ModelInfo: m, Selected: m.ID == selected, Credential: credNone}
		if key, ok := keys.Credentials(m.ID); ok {
			row.Credential = credEnv
			if stored[m.ID] {
				row.Credential = credStored
			}
			row.Fingerprint = provider.KeyFingerprint(key)
		}
		rows = append(rows, row)
	}
	return rows
}

// =============================================================================
// MODELS
// =============================================================================

func (a *App) modelsCommand() *cobra.Command {
	var jsonMode bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the available models",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(ctx context.Context, args []string) error {
			keys, err := a.keyStore()
			if err != nil {
				return err
			}
			rows := modelRows(keys)
			if jsonMode {
				return NewJSONResponse("models", rows).Write(a.out)
			}

			for _, row := range rows {
				marker := " "
				if row.Selected {
					marker = RenderConditional(SuccessStyle, "*")
				}
				status := RenderConditional(DimStyle, "no key")
				if row.Credential != credNone {
					status = RenderConditional(SuccessStyle, "key: "+row.Credential)
				}
				fmt.Fprintf(a.out, "%s %s %s %s %s\n",
					marker,
					util.PadRight(row.ID, 20),
					util.PadRight(row.Name, 24),
					util.PadRight(string(row.Family), 10),
					status)
			}
			if keys.Selection() == "" {
				fmt.Fprintln(a.out, "\nNo model selected. Run: whisper models use <id>")
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&jsonMode, "json", false, "output as JSON")

	use := &cobra.Command{
		Use:   "use <id>",
		Short: "Select the model for new turns",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(ctx context.Context, args []string) error {
			id := args[0]
			if _, ok := provider.Lookup(id); !ok {
				return ErrUnknownModel(id)
			}
			keys, err := a.keyStore()
			if err != nil {
				return err
			}
			if err := keys.SetSelection(id); err != nil {
				return NewCommandError("models", "use", "could not save selection", err)
			}
			fmt.Fprintf(a.out, "%s Selected %s\n", RenderStatus("ok"), id)
			if _, ok := keys.Credentials(id); !ok {
				fmt.Fprintf(a.out, "No API key for %s yet. Run: whisper key set %s\n", id, id)
			}
			return nil
		}),
	}
	cmd.AddCommand(use)
	return cmd
}

// =============================================================================
// KEYS
// =============================================================================

func (a *App) keyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage per-model API keys",
		Long: `Manage per-model API keys.

Keys are stored in the config file with 0600 permissions. A key in the
provider's environment variable (OPENAI_API_KEY, GROQ_API_KEY,
GEMINI_API_KEY, ANTHROPIC_API_KEY) is used when none is stored.`,
	}

	set := &cobra.Command{
		Use:   "set <model-id> [key]",
		Short: "Store the API key for a model",
		Long: `Store the API key for a model.

Without a key argument the key is prompted for without echo, or read from
stdin when it is not a terminal.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: a.runE(func(ctx context.Context, args []string) error {
			id := args[0]
			if _, ok := provider.Lookup(id); !ok {
				return ErrUnknownModel(id)
			}
			var key string
			if len(args) == 2 {
				key = args[1]
			} else {
				k, err := a.readSecret("API key for " + id + ": ")
				if err != nil {
					return err
				}
				key = k
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return NewValidationErrorWithExample("key", "", "key is empty", "whisper key rm "+id)
			}

			keys, err := a.keyStore()
			if err != nil {
				return err
			}
			if err := keys.SetCredentials(id, key); err != nil {
				return NewCommandError("key", "set", "could not save key", err)
			}
			fmt.Fprintf(a.out, "%s Stored key for %s (fingerprint %s)\n", RenderStatus("ok"), id, provider.KeyFingerprint(key))
			return nil
		}),
	}

	rm := &cobra.Command{
		Use:     "rm <model-id>",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove the stored API key for a model",
		Args:    cobra.ExactArgs(1),
		RunE: a.runE(func(ctx context.Context, args []string) error {
			id := args[0]
			if _, ok := provider.Lookup(id); !ok {
				return ErrUnknownModel(id)
			}
			keys, err := a.keyStore()
			if err != nil {
				return err
			}
			if err := keys.SetCredentials(id, ""); err != nil {
				return NewCommandError("key", "rm", "could not save config", err)
			}
			fmt.Fprintf(a.out, "%s Removed key for %s\n", RenderStatus("ok"), id)
			return nil
		}),
	}

	var jsonMode bool
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show which models have a key",
		Args:    cobra.NoArgs,
		RunE: a.runE(func(ctx context.Context, args []string) error {
			keys, err := a.keyStore()
			if err != nil {
				return err
			}
			var rows []modelRow
			for _, row := range modelRows(keys) {
				if row.Credential != credNone {
					rows = append(rows, row)
				}
			}
			if jsonMode {
				return NewJSONResponse("key list", rows).Write(a.out)
			}
			if len(rows) == 0 {
				fmt.Fprintln(a.out, "No API keys configured.")
				return nil
			}
			for _, row := range rows {
				fmt.Fprintf(a.out, "%s %s %s\n", util.PadRight(row.ID, 20), util.PadRight(row.Credential, 8), row.Fingerprint)
			}
			return nil
		}),
	}
	list.Flags().BoolVar(&jsonMode, "json", false, "output as JSON")

	cmd.AddCommand(set, rm, list)
	return cmd
}

// readSecret prompts without echo on a terminal, otherwise reads one line.
func (a *App) readSecret(prompt string) (string, error) {
	if isTerminalReader(a.in) {
		line := liner.NewLiner()
		defer line.Close()
		line.SetCtrlCAborts(true)
		return line.PasswordPrompt(prompt)
	}
	s, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && s == "" {
		return "", WrapError(err, "read key from stdin")
	}
	return s, nil
}
