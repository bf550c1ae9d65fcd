// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Backends lists every supported backend name.
var Backends = []string{BackendMemory, BackendFile, BackendSQLite, BackendBolt}

// Config selects and locates a backend.
type Config struct {
	// Backend is one of Backends. Empty means sqlite.
	Backend string

	// Path is a directory for the file backend and a database file for
	// sqlite and bolt. Ignored by memory.
	Path string
}

// DefaultPath returns the conventional location for a backend under dataDir.
func DefaultPath(backend, dataDir string) string {
	switch backend {
	case BackendFile:
		return filepath.Join(dataDir, "conversations")
	case BackendBolt:
		return filepath.Join(dataDir, "history.bolt")
	default:
		return filepath.Join(dataDir, "history.db")
	}
}

// Open creates the configured backend.
func Open(cfg Config) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendSQLite
	}
	if backend != BackendMemory && cfg.Path == "" {
		return nil, fmt.Errorf("storage backend %q requires a path", backend)
	}

	var (
		store Store
		err   error
	)
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		store, err = NewFileStore(cfg.Path)
	case BackendSQLite:
		store, err = NewSQLiteStore(cfg.Path)
	case BackendBolt:
		store, err = NewBoltStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want one of %s)", cfg.Backend, strings.Join(Backends, ", "))
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
