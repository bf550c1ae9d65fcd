// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package parser

import (
	"regexp"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2/lexers"
)

var (
	tagPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+#._-]*$`)

	aliasOnce sync.Once
	aliases   map[string]bool
)

func knownAliases() map[string]bool {
	aliasOnce.Do(func() {
		names := lexers.Names(true)
		aliases = make(map[string]bool, len(names))
		for _, n := range names {
			aliases[strings.ToLower(n)] = true
		}
	})
	return aliases
}

// isLanguageTag reports whether s is a bare name or alias of a known lexer.
// File extensions alone do not count.
func isLanguageTag(s string) bool {
	if !tagPattern.MatchString(s) {
		return false
	}
	return knownAliases()[strings.ToLower(s)]
}

// CanonicalLanguage lowercases a language name and maps known aliases to
// the lexer's canonical name ("py" becomes "python"). Unknown names are
// only lowercased; blank input stays blank.
func CanonicalLanguage(name string) string {
	n := strings.Trim(strings.TrimSpace(name), "`'\".")
	if n == "" {
		return ""
	}
	lower := strings.ToLower(n)
	if knownAliases()[lower] {
		if l := lexers.Get(lower); l != nil {
			return strings.ToLower(l.Config().Name)
		}
	}
	return lower
}
