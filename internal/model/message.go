// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Whisper"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// =============================================================================
// CHAT MESSAGE TYPE
// =============================================================================

// ChatMessage is a single turn of a conversation.
type ChatMessage struct {
	ID        string    `json:"id,omitempty" yaml:"id,omitempty"`
	Role      Role      `json:"role" yaml:"role"`
	Content   Content   `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content Content) ChatMessage {
	return ChatMessage{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessage creates a user message with plain text content.
func NewUserMessage(text string) ChatMessage {
	return NewMessage(RoleUser, Text(text))
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content Content) ChatMessage {
	return NewMessage(RoleAssistant, content)
}

// Text returns the message content flattened to text.
// Structured content is rendered in its raw marker form.
func (m ChatMessage) Text() string {
	return m.Content.String()
}

// IsStructured reports whether the message carries a parsed hint.
func (m ChatMessage) IsStructured() bool {
	return m.Content.IsStructured()
}

// Preview returns a truncated single-line preview of the message.
func (m ChatMessage) Preview(maxLen int) string {
	s := m.Content.Summary()
	runes := []rune(s)
	if maxLen <= 3 || len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
