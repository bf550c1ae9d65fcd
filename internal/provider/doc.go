// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider adapts hosted LLM APIs to a single generate call.
//
// Each family (OpenAI-compatible, Gemini, Anthropic) has its own wire
// format, role names and system prompt placement. Router picks the family
// from the catalog when it is configured and forwards to that adapter.
//
// # Guarantees
//
//   - Configure never performs network I/O
//   - Generate sends exactly one request and never retries
//   - every request is bounded by Options.Timeout and the caller's context
//   - API keys are never logged; logs carry a short SHA-256 fingerprint
//   - failures come back as a Result with a Kind, never as a panic
//
// # Usage
//
//	r := provider.NewRouter(provider.DefaultOptions())
//	if err := r.Configure("openai_4o", key); err != nil {
//	    return err
//	}
//	res := r.Generate(ctx, provider.Request{SystemPrompt: sys, UserPrompt: q})
//	if !res.OK() {
//	    fmt.Println(res.Err.Kind, res.Err.Message)
//	}
package provider
