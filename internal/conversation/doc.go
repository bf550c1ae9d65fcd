// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation runs hint conversations for one topic at a time.
//
// A Service owns the working copy of the active topic's messages. Each
// SendTurn builds the system prompt from the current problem and code,
// asks the provider adapter for a reply, parses it, and persists the user
// and assistant messages together in a single Append.
//
// # Turn States
//
//	Idle -> Sending -> Settled -> Idle
//
// While a topic is Sending, further sends on it are rejected with
// ErrTurnInFlight. Every accepted send produces exactly one assistant
// message: a structured hint on success, the error text otherwise. Only
// store failures are returned as errors.
//
// # Topic Switching
//
// Open replaces the working copy. A turn that settles after its topic was
// switched away is still persisted under its own topic but is not applied
// to the new working copy; SendTurn reports it with ErrStaleResult.
package conversation
