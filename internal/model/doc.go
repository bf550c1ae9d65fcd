// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for hint conversations.
//
// This package defines the core domain types shared by the provider
// adapters, the response parser, the conversation stores and the service.
//
// # Key Types
//
//   - ChatMessage: one persisted turn with role, content and timestamp
//   - Content: either plain text or StructuredContent, never both
//   - StructuredContent: a parsed hint (feedback, hints, snippet, language)
//   - Role: message role enumeration (user, assistant, system)
//   - Transcript: a topic's messages packaged for export
//
// # Persistence
//
// Content serializes to a JSON string for plain text and to a JSON object
// for structured content. On decode, an object is structured only when it
// carries a "feedback" key; anything else is kept as text.
//
// # Usage
//
//	msg := model.NewUserMessage("how do I start?")
//	reply := model.NewAssistantMessage(model.Structured(model.StructuredContent{
//	    Feedback: "Think about a lookup table.",
//	    Hints:    []string{"Use a map from value to index."},
//	}))
package model
