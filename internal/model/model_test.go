// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// CONTENT DISCRIMINANT TESTS
// =============================================================================

func TestContent_UnmarshalDiscriminant(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		structured bool
		text       string
	}{
		{name: "string", input: `"hello"`, text: "hello"},
		{name: "object with feedback", input: `{"feedback":"ok","hints":["a"]}`, structured: true},
		{name: "object with empty feedback", input: `{"feedback":""}`, structured: true},
		{name: "object without feedback", input: `{"hints":["a"]}`, text: `{"hints":["a"]}`},
		{name: "null", input: `null`, text: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var c Content
			require.NoError(t, json.Unmarshal([]byte(tc.input), &c))
			assert.Equal(t, tc.structured, c.IsStructured())
			if !tc.structured {
				got, ok := c.PlainText()
				require.True(t, ok)
				assert.Equal(t, tc.text, got)
			}
		})
	}
}

func TestContent_StringThatLooksLikeJSONStaysText(t *testing.T) {
	// A plain string whose text is an object literal must not be promoted.
	msg := NewAssistantMessage(Text(`{"feedback":"not really"}`))
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded ChatMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.False(t, decoded.IsStructured())
	assert.Equal(t, `{"feedback":"not really"}`, decoded.Text())
}

func TestContent_StructuredSurvivesJSON(t *testing.T) {
	sc := StructuredContent{
		Feedback:            "Consider a hash map.",
		Hints:               []string{"Store complements.", "Single pass."},
		Snippet:             "seen = {}",
		ProgrammingLanguage: "python",
	}
	msg := NewAssistantMessage(Structured(sc))

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"programmingLanguage":"python"`)

	var decoded ChatMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	got, ok := decoded.Content.Structured()
	require.True(t, ok)
	assert.True(t, sc.Equal(got))
	assert.Equal(t, msg.ID, decoded.ID)
}

func TestContent_YAMLDiscriminant(t *testing.T) {
	in := []ChatMessage{
		NewUserMessage("plain"),
		NewAssistantMessage(Structured(StructuredContent{Feedback: "fb", Hints: []string{"h"}})),
	}
	data, err := yaml.Marshal(in)
	require.NoError(t, err)

	var out []ChatMessage
	require.NoError(t, yaml.Unmarshal(data, &out))
	require.Len(t, out, 2)
	assert.True(t, in[0].Content.Equal(out[0].Content))
	assert.True(t, in[1].Content.Equal(out[1].Content))
}

// =============================================================================
// STRUCTURED CONTENT TESTS
// =============================================================================

func TestStructuredContent_Raw(t *testing.T) {
	sc := StructuredContent{
		Feedback:            "Good start.",
		Hints:               []string{"one", "two"},
		Snippet:             "x = 1",
		ProgrammingLanguage: "go",
	}
	want := "FEEDBACK: Good start.\nHINT: one\nHINT: two\nLANGUAGE: go\nSNIPPET: ```x = 1```"
	assert.Equal(t, want, sc.Raw())
	assert.Equal(t, "FEEDBACK: only", StructuredContent{Feedback: "only"}.Raw())
}

func TestStructuredContent_EqualNilHints(t *testing.T) {
	a := StructuredContent{Feedback: "f"}
	b := StructuredContent{Feedback: "f", Hints: []string{}}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(StructuredContent{Feedback: "g"}))
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessage_Preview(t *testing.T) {
	msg := NewUserMessage("line one\nline two and more")
	assert.Equal(t, "line one line...", msg.Preview(16))
	assert.Equal(t, "line one line two and more", msg.Preview(100))
}

func TestRole_DisplayName(t *testing.T) {
	assert.Equal(t, "You", RoleUser.DisplayName())
	assert.Equal(t, "Whisper", RoleAssistant.DisplayName())
	assert.True(t, RoleSystem.Valid())
	assert.False(t, Role("tool").Valid())
}

func TestTranscript_HintCount(t *testing.T) {
	tr := NewTranscript("two-sum", []ChatMessage{
		NewUserMessage("q"),
		NewAssistantMessage(Structured(StructuredContent{Feedback: "a"})),
		NewUserMessage("q2"),
		NewAssistantMessage(Text("network down")),
	})
	assert.Equal(t, 1, tr.HintCount())
	first, last := tr.TimeRange()
	assert.False(t, last.Before(first))
}
