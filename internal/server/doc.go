// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server is the local bridge a browser extension talks to.
//
// # Endpoints
//
//   - GET    /health
//   - GET    /v1/models
//   - GET    /v1/topics
//   - POST   /v1/topics/{topic}/turns     {text, problem, language, code}
//   - GET    /v1/topics/{topic}/messages  ?limit&offset
//   - DELETE /v1/topics/{topic}/messages
//   - GET    /v1/topics/{topic}/events    websocket stream of service events
//
// A turn on a topic that already has one in flight gets 409 Conflict.
// Provider failures are not HTTP errors; they arrive as a plain-text
// assistant message with status 200.
//
// # Usage
//
//	hub := server.NewHub(router, store, conversation.WithKeyStore(keys))
//	srv := server.New(server.Config{Addr: cfg.ServerAddr()}, hub)
//	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
//		return err
//	}
package server
