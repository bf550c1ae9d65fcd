// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"strings"
	"sync"
)

// session holds the configured model and key of one adapter.
type session struct {
	mu       sync.RWMutex
	families []Family
	model    ModelInfo
	key      string
	ready    bool
}

func newSession(families ...Family) *session {
	return &session{families: families}
}

func (s *session) configure(modelID, apiKey string) error {
	info, ok := Lookup(modelID)
	if !ok {
		return configError(ErrUnknownModel, "unknown model %q", modelID)
	}
	if !s.accepts(info.Family) {
		return configError(ErrUnknownModel, "model %q is not served by the %s adapter", modelID, s.families[0])
	}
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return configError(ErrMissingKey, "API key for %s is not set", modelID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = info
	s.key = key
	s.ready = true
	return nil
}

func (s *session) accepts(f Family) bool {
	for _, af := range s.families {
		if af == f {
			return true
		}
	}
	return false
}

func (s *session) current() (ModelInfo, string, *Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return ModelInfo{}, "", configError(ErrNotConfigured, "no model configured")
	}
	return s.model, s.key, nil
}
