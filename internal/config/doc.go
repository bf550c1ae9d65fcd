// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and credential storage for
// whisper.
//
// # Key Types
//
//   - Config: the whole settings file
//   - KeyStore: model selection and per-model API keys, persisted in the
//     same file
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (WHISPER_*)
//   - ~/.whisper/config.toml (or $WHISPER_HOME/config.toml)
//   - Built-in defaults
//
// API keys additionally fall back to the provider's conventional variable
// (OPENAI_API_KEY, GEMINI_API_KEY, GROQ_API_KEY, ANTHROPIC_API_KEY).
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	keys := config.NewKeyStore(cfg, path)
//	id := keys.Selection()
package config
