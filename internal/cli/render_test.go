// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/whisper/internal/model"
)

func TestRenderer_PlainStructured(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, false, true)

	msg := model.NewAssistantMessage(model.Structured(model.StructuredContent{
		Feedback:            "You are close.",
		Hints:               []string{"sort first", "use two pointers"},
		Snippet:             "l, r := 0, len(nums)-1\n",
		ProgrammingLanguage: "go",
	}))
	r.Message(msg)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Whisper  "), out)
	assert.Contains(t, out, "You are close.")
	assert.Contains(t, out, "Hints:\n  1. sort first\n  2. use two pointers\n")
	assert.Contains(t, out, "Snippet (go):\n```go\nl, r := 0, len(nums)-1\n```")
	assert.NotContains(t, out, "\x1b[", "no escape codes without color")
}

func TestRenderer_PlainText(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, false, false)

	msg := model.NewUserMessage("how do I start?")
	msg.Timestamp = time.Date(2025, 3, 4, 10, 30, 0, 0, time.Local)
	r.Message(msg)

	assert.Equal(t, "You  Mar 4 10:30\nhow do I start?\n\n", buf.String())
}

func TestRenderer_EmptyStructuredReply(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, false, false)
	r.Message(model.NewAssistantMessage(model.Structured(model.StructuredContent{})))
	assert.Contains(t, buf.String(), "(empty reply)")
}

func TestRenderer_ColorHighlightsSnippet(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, true, false)
	r.Message(model.NewAssistantMessage(model.Structured(model.StructuredContent{
		Feedback:            "Try this.",
		Snippet:             "def f(x):\n    return x",
		ProgrammingLanguage: "python",
	})))
	out := buf.String()
	assert.Contains(t, out, "\x1b[")
	assert.NotContains(t, out, "```")
}

func TestHighlightCode(t *testing.T) {
	out, err := highlightCode("package main\n\nfunc main() {}\n", "go")
	require.NoError(t, err)
	assert.Contains(t, out, "\x1b[")
	assert.Contains(t, out, "main")

	// Unknown languages fall back to analysis or plain text.
	out, err = highlightCode("just words", "no-such-language")
	require.NoError(t, err)
	assert.Contains(t, out, "just")
	assert.Contains(t, out, "words")
}

func TestPreview(t *testing.T) {
	msg := model.NewUserMessage("a very\nlong question about two sum and hash maps")
	p := Preview(msg, 20)
	assert.LessOrEqual(t, len([]rune(p)), 20)
	assert.True(t, strings.HasSuffix(p, "..."))
	assert.NotContains(t, p, "\n")
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, "one two\nthree", WrapText("one two three", 8))
	assert.Equal(t, "keep\nlines", WrapText("keep\nlines", 80))
}

func TestUseColor(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv("NO_COLOR", "")
	assert.True(t, useColor("always", &buf))
	assert.False(t, useColor("never", &buf))
	assert.False(t, useColor("auto", &buf), "a buffer is not a terminal")

	t.Setenv("NO_COLOR", "1")
	assert.False(t, useColor("always", &buf))
}
