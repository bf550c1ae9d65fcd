// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes a topic's transcript to a file.
//
// # Supported Formats
//
//   - json: the stored form; structured replies stay objects
//   - markdown: readable notes with hints as lists and snippets fenced
//   - yaml: the stored form as YAML
//
// # Usage
//
//	exporter, err := export.ForFormat("markdown", nil)
//	path, err := export.ExportToFile(transcript, exporter, opts)
package export
