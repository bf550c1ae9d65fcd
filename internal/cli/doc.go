// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the whisper command line.
//
// # Commands
//
//	whisper ask [question]        one turn on the current topic
//	whisper chat                  interactive session with slash commands
//	whisper history               show a page of a topic's conversation
//	whisper clear                 delete a topic's conversation
//	whisper topic list|from-url   list topics or derive one from a URL
//	whisper export                write a conversation as json, markdown or yaml
//	whisper models [use <id>]     list or select models
//	whisper key set|rm|list       manage per-model API keys
//	whisper config list|get|set   inspect and change settings
//	whisper serve                 run the bridge for the browser extension
//
// # Topics
//
// Every conversation command works on one topic. --topic names it directly
// or, when given a problem page URL, derives it the way the browser
// extension does. Without --topic the problem file name is used, and
// failing that the shared "Unknown Problem" topic.
//
// # Exit Codes
//
//	0   success
//	1   general error
//	2   usage error
//	3   configuration error (bad config, no model, no key)
//	5   network error
//	7   not found
//	9   a turn is already in flight
//	130 interrupted
package cli
