// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// =============================================================================
// CONFIRMATION
// =============================================================================

// RequireConfirmation checks that the user confirmed a destructive action.
//
// Confirmation flow:
//  1. If confirmFlag is true (--yes), return true immediately
//  2. If in is not a terminal, return an error (can't prompt)
//  3. Otherwise, prompt on out and read one line from in
func RequireConfirmation(confirmFlag bool, action string, in io.Reader, out io.Writer) (bool, error) {
	if confirmFlag {
		return true, nil
	}
	if !isTerminalReader(in) {
		return false, fmt.Errorf("confirmation required but stdin is not a terminal; use --yes")
	}
	return promptYesNo(action, in, out)
}

// promptYesNo asks "Are you sure you want to <action>?" and accepts y/yes.
func promptYesNo(action string, in io.Reader, out io.Writer) (bool, error) {
	fmt.Fprintf(out, "\nAre you sure you want to %s? [y/N]: ", action)

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && input == "" {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	response := strings.ToLower(strings.TrimSpace(input))
	return response == "y" || response == "yes", nil
}
