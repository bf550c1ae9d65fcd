// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package hostctx

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// UnknownTopic is the topic used when none can be derived.
const UnknownTopic = "Unknown Problem"

// Problem is the problem the user is working on.
type Problem struct {
	// Topic keys the conversation history.
	Topic string `json:"topic"`

	// Statement is the problem text. It may contain HTML; nothing here
	// sanitizes it.
	Statement string `json:"problem"`

	// Language is a best-effort editor language, empty when unknown.
	Language string `json:"language,omitempty"`
}

// ProblemSource reports the current problem.
type ProblemSource interface {
	Problem(ctx context.Context) (Problem, error)
}

// StaticProblem is a fixed problem.
type StaticProblem Problem

// Problem implements ProblemSource.
func (p StaticProblem) Problem(context.Context) (Problem, error) {
	return Problem(p), nil
}

// FileProblem reads the statement from a file on every call so edits are
// picked up. Topic defaults to the file name without extension.
type FileProblem struct {
	Path     string
	Topic    string
	Language string
}

// Problem implements ProblemSource.
func (p FileProblem) Problem(ctx context.Context) (Problem, error) {
	if err := ctx.Err(); err != nil {
		return Problem{}, err
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return Problem{}, fmt.Errorf("read problem statement: %w", err)
	}
	topic := p.Topic
	if topic == "" {
		base := filepath.Base(p.Path)
		topic = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return Problem{
		Topic:     topic,
		Statement: string(data),
		Language:  p.Language,
	}, nil
}

var problemPath = regexp.MustCompile(`/problems/([^/?#]+)`)

// TopicFromURL derives a topic key from a problem page URL.
//
// LeetCode-style paths (/problems/<slug>/...) yield the slug. Other hosts
// name problems "<title>-<code>" in the last path element; the code after
// the final '-' is used. Anything else is UnknownTopic.
func TopicFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Path == "" {
		return UnknownTopic
	}
	if m := problemPath.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	last := strings.Trim(u.Path, "/")
	if i := strings.LastIndex(last, "/"); i >= 0 {
		last = last[i+1:]
	}
	if i := strings.LastIndex(last, "-"); i >= 0 && i < len(last)-1 {
		return last[i+1:]
	}
	if last == "" {
		return UnknownTopic
	}
	return last
}
