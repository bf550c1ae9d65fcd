// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists per-topic conversation history.
//
// Every backend implements Store. A topic is an ordered sequence of
// messages; Append adds a batch atomically, FetchPage reads a window
// counted back from the newest message, and Clear drops the topic.
//
// # Backends
//
//   - memory: in-process map, for tests and --ephemeral runs
//   - file:   one JSON document per topic under a directory
//   - sqlite: modernc.org/sqlite, one row per message
//   - bolt:   go.etcd.io/bbolt, one bucket per topic
//
// # Usage
//
//	store, err := storage.Open(storage.Config{Backend: "sqlite", Path: dbPath})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	err = store.Append(ctx, "two-sum", userMsg, assistantMsg)
//	page, err := store.FetchPage(ctx, "two-sum", 10, 0)
//
// # Paging
//
// With N messages, FetchPage(limit, offset) returns messages
// [max(0, N-offset-limit), N-offset) oldest first. Offsets 0, limit,
// 2*limit, ... walk backwards through history in disjoint blocks.
package storage
