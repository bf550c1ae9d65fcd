// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt builds the system instruction sent to the model.
//
// Substitution is literal: every placeholder occurrence is replaced in a
// single left-to-right pass and inserted values are never re-scanned.
// {{problem_statement}} matches case-insensitively; the other placeholders
// match exactly.
package prompt

import (
	"fmt"
	"os"
	"strings"
)

// Placeholders recognized in templates.
const (
	PlaceholderProblem  = "{{problem_statement}}"
	PlaceholderLanguage = "{{programming_language}}"
	PlaceholderCode     = "{{user_code}}"
)

const (
	// DefaultNoCodeSentinel stands in for the user's code when none was written.
	DefaultNoCodeSentinel = "User did not wrote any code"

	// DefaultLanguage is used when the editor language cannot be read.
	DefaultLanguage = "UNKNOWN"
)

// Vars are the values substituted into a template.
type Vars struct {
	ProblemStatement    string
	ProgrammingLanguage string
	UserCode            string
}

// WithDefaults returns a copy where blank code is replaced by sentinel and a
// blank language by defaultLanguage. Empty arguments leave the field as is.
func (v Vars) WithDefaults(sentinel, defaultLanguage string) Vars {
	if strings.TrimSpace(v.UserCode) == "" && sentinel != "" {
		v.UserCode = sentinel
	}
	if strings.TrimSpace(v.ProgrammingLanguage) == "" && defaultLanguage != "" {
		v.ProgrammingLanguage = defaultLanguage
	}
	return v
}

type placeholder struct {
	token    string
	foldCase bool
	valueOf  func(Vars) string
}

var placeholders = []placeholder{
	{token: PlaceholderProblem, foldCase: true, valueOf: func(v Vars) string { return v.ProblemStatement }},
	{token: PlaceholderLanguage, valueOf: func(v Vars) string { return v.ProgrammingLanguage }},
	{token: PlaceholderCode, valueOf: func(v Vars) string { return v.UserCode }},
}

// Build substitutes v into template. It never fails; placeholders it does
// not recognize are left untouched.
func Build(template string, v Vars) string {
	var b strings.Builder
	b.Grow(len(template) + len(v.ProblemStatement) + len(v.UserCode))

	i := 0
	for i < len(template) {
		if template[i] == '{' {
			if p, ok := matchAt(template, i); ok {
				b.WriteString(p.valueOf(v))
				i += len(p.token)
				continue
			}
		}
		b.WriteByte(template[i])
		i++
	}
	return b.String()
}

func matchAt(s string, i int) (placeholder, bool) {
	for _, p := range placeholders {
		end := i + len(p.token)
		if end > len(s) {
			continue
		}
		candidate := s[i:end]
		if candidate == p.token || (p.foldCase && strings.EqualFold(candidate, p.token)) {
			return p, true
		}
	}
	return placeholder{}, false
}

// LoadTemplate reads a template from path. An empty path yields DefaultTemplate.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return DefaultTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt template: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("prompt template %s is empty", path)
	}
	return string(data), nil
}

// Missing lists the known placeholders that template does not contain.
func Missing(template string) []string {
	var missing []string
	lower := strings.ToLower(template)
	for _, p := range placeholders {
		if p.foldCase {
			if !strings.Contains(lower, p.token) {
				missing = append(missing, p.token)
			}
			continue
		}
		if !strings.Contains(template, p.token) {
			missing = append(missing, p.token)
		}
	}
	return missing
}
