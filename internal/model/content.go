// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// STRUCTURED CONTENT
// =============================================================================

// StructuredContent is the parsed form of an assistant reply.
type StructuredContent struct {
	// Feedback is the prose part of the reply. Always present, possibly empty.
	Feedback string `json:"feedback" yaml:"feedback"`

	// Hints are short ordered nudges.
	Hints []string `json:"hints,omitempty" yaml:"hints,omitempty"`

	// Snippet is at most one code fragment, fences removed.
	Snippet string `json:"snippet,omitempty" yaml:"snippet,omitempty"`

	// ProgrammingLanguage is the lowercased snippet language, when known.
	ProgrammingLanguage string `json:"programmingLanguage,omitempty" yaml:"programmingLanguage,omitempty"`
}

// HasSnippet reports whether a code fragment is attached.
func (s StructuredContent) HasSnippet() bool {
	return s.Snippet != ""
}

// Raw renders the content back into the marker form accepted by the
// response parser. Providers receive prior structured turns in this form.
func (s StructuredContent) Raw() string {
	var b strings.Builder
	b.WriteString("FEEDBACK: ")
	b.WriteString(s.Feedback)
	for _, h := range s.Hints {
		b.WriteString("\nHINT: ")
		b.WriteString(h)
	}
	if s.ProgrammingLanguage != "" {
		b.WriteString("\nLANGUAGE: ")
		b.WriteString(s.ProgrammingLanguage)
	}
	if s.Snippet != "" {
		b.WriteString("\nSNIPPET: ```")
		b.WriteString(s.Snippet)
		b.WriteString("```")
	}
	return b.String()
}

// Equal reports whether two structured contents carry the same fields.
// Nil and empty hint lists compare equal.
func (s StructuredContent) Equal(o StructuredContent) bool {
	if s.Feedback != o.Feedback || s.Snippet != o.Snippet || s.ProgrammingLanguage != o.ProgrammingLanguage {
		return false
	}
	if len(s.Hints) != len(o.Hints) {
		return false
	}
	for i := range s.Hints {
		if s.Hints[i] != o.Hints[i] {
			return false
		}
	}
	return true
}

// =============================================================================
// CONTENT UNION
// =============================================================================

// Content holds either plain text or structured content.
// The zero value is empty text.
type Content struct {
	text       string
	structured *StructuredContent
}

// Text wraps plain text content.
func Text(s string) Content {
	return Content{text: s}
}

// Structured wraps parsed content.
func Structured(sc StructuredContent) Content {
	return Content{structured: &sc}
}

// IsStructured reports whether the content is a StructuredContent.
func (c Content) IsStructured() bool {
	return c.structured != nil
}

// Structured returns the structured form and whether it is present.
func (c Content) Structured() (StructuredContent, bool) {
	if c.structured == nil {
		return StructuredContent{}, false
	}
	return *c.structured, true
}

// PlainText returns the text form and whether the content is plain text.
func (c Content) PlainText() (string, bool) {
	if c.structured != nil {
		return "", false
	}
	return c.text, true
}

// String flattens the content to text.
func (c Content) String() string {
	if c.structured != nil {
		return c.structured.Raw()
	}
	return c.text
}

// Summary returns a short human-oriented text: the feedback for structured
// content, the text otherwise. Newlines are collapsed to spaces.
func (c Content) Summary() string {
	s := c.text
	if c.structured != nil {
		s = c.structured.Feedback
	}
	return strings.Join(strings.Fields(s), " ")
}

// Equal reports whether two contents have the same variant and fields.
func (c Content) Equal(o Content) bool {
	if c.IsStructured() != o.IsStructured() {
		return false
	}
	if c.structured != nil {
		return c.structured.Equal(*o.structured)
	}
	return c.text == o.text
}

// MarshalJSON encodes text as a JSON string and structured content as an object.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.structured != nil {
		return json.Marshal(c.structured)
	}
	return json.Marshal(c.text)
}

// UnmarshalJSON decodes a JSON string as text. A JSON object is structured
// when it has a "feedback" key; other objects are kept verbatim as text.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*c = Content{}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	switch trimmed[0] {
	case '"':
		return json.Unmarshal(trimmed, &c.text)
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return fmt.Errorf("decode content object: %w", err)
		}
		if _, ok := probe["feedback"]; !ok {
			c.text = string(trimmed)
			return nil
		}
		var sc StructuredContent
		if err := json.Unmarshal(trimmed, &sc); err != nil {
			return fmt.Errorf("decode structured content: %w", err)
		}
		c.structured = &sc
		return nil
	default:
		c.text = string(trimmed)
		return nil
	}
}

// MarshalYAML mirrors MarshalJSON for the YAML exporter.
func (c Content) MarshalYAML() (interface{}, error) {
	if c.structured != nil {
		return c.structured, nil
	}
	return c.text, nil
}

// UnmarshalYAML mirrors UnmarshalJSON: a mapping with "feedback" is structured.
func (c *Content) UnmarshalYAML(node *yaml.Node) error {
	*c = Content{}
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == "feedback" {
				var sc StructuredContent
				if err := node.Decode(&sc); err != nil {
					return err
				}
				c.structured = &sc
				return nil
			}
		}
	}
	if node.Kind == yaml.ScalarNode {
		c.text = node.Value
		return nil
	}
	out, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	c.text = strings.TrimRight(string(out), "\n")
	return nil
}
