// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package hostctx supplies the page context a hint request is built from:
// the problem being solved and the code the user has written so far.
//
// In the browser these come from the host page; here they come from
// flags, files, or per-request fields on the bridge.
package hostctx
