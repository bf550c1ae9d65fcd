// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// Transcript is the full history of one topic packaged for export.
type Transcript struct {
	Topic      string        `json:"topic" yaml:"topic"`
	Model      string        `json:"model,omitempty" yaml:"model,omitempty"`
	ExportedAt time.Time     `json:"exported_at" yaml:"exported_at"`
	Messages   []ChatMessage `json:"messages" yaml:"messages"`
}

// NewTranscript creates a transcript stamped with the current time.
func NewTranscript(topic string, messages []ChatMessage) *Transcript {
	return &Transcript{
		Topic:      topic,
		ExportedAt: time.Now().UTC(),
		Messages:   messages,
	}
}

// HintCount returns the number of structured assistant replies.
func (t *Transcript) HintCount() int {
	n := 0
	for _, m := range t.Messages {
		if m.Role == RoleAssistant && m.IsStructured() {
			n++
		}
	}
	return n
}

// TimeRange returns the first and last message timestamps.
func (t *Transcript) TimeRange() (time.Time, time.Time) {
	if len(t.Messages) == 0 {
		return time.Time{}, time.Time{}
	}
	return t.Messages[0].Timestamp, t.Messages[len(t.Messages)-1].Timestamp
}
