// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jeranaias/whisper/internal/provider"
)

// EnvKeyNames maps each family to its conventional API key variable.
var EnvKeyNames = map[provider.Family]string{
	provider.FamilyOpenAI:    "OPENAI_API_KEY",
	provider.FamilyGroq:      "GROQ_API_KEY",
	provider.FamilyGemini:    "GEMINI_API_KEY",
	provider.FamilyAnthropic: "ANTHROPIC_API_KEY",
}

// KeyStore holds the selected model and per-model API keys. Changes are
// written back to the config file at path; an empty path keeps them in
// memory only. Only the changed entry is written, so environment
// overrides in cfg never reach the file.
type KeyStore struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewKeyStore wraps cfg. cfg is mutated by the setters.
func NewKeyStore(cfg *Config, path string) *KeyStore {
	if cfg.Keys == nil {
		cfg.Keys = map[string]string{}
	}
	return &KeyStore{cfg: cfg, path: path}
}

// Selection returns the selected model ID, or "" when none is chosen.
func (k *KeyStore) Selection() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.cfg.Model.Selected
}

// Credentials returns the API key for a model. Stored keys win over the
// family's environment variable.
func (k *KeyStore) Credentials(modelID string) (string, bool) {
	k.mu.RLock()
	key := strings.TrimSpace(k.cfg.Keys[modelID])
	k.mu.RUnlock()
	if key != "" {
		return key, true
	}
	info, ok := provider.Lookup(modelID)
	if !ok {
		return "", false
	}
	if env := strings.TrimSpace(os.Getenv(EnvKeyNames[info.Family])); env != "" {
		return env, true
	}
	return "", false
}

// SetSelection selects a model and saves.
func (k *KeyStore) SetSelection(modelID string) error {
	if _, ok := provider.Lookup(modelID); !ok {
		return fmt.Errorf("unknown model %q", modelID)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.persist(func(c *Config) { c.Model.Selected = modelID }); err != nil {
		return err
	}
	k.cfg.Model.Selected = modelID
	return nil
}

// SetCredentials stores the key for a model and saves. An empty key
// removes it.
func (k *KeyStore) SetCredentials(modelID, apiKey string) error {
	if _, ok := provider.Lookup(modelID); !ok {
		return fmt.Errorf("unknown model %q", modelID)
	}
	apiKey = strings.TrimSpace(apiKey)

	k.mu.Lock()
	defer k.mu.Unlock()
	apply := func(c *Config) {
		if apiKey == "" {
			delete(c.Keys, modelID)
		} else {
			c.Keys[modelID] = apiKey
		}
	}
	if err := k.persist(apply); err != nil {
		return err
	}
	apply(k.cfg)
	return nil
}

// Stored returns the model IDs that have a key in the config file.
func (k *KeyStore) Stored() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var ids []string
	for _, m := range provider.Catalog() {
		if strings.TrimSpace(k.cfg.Keys[m.ID]) != "" {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// persist applies change to the file's own contents and saves them.
// Caller holds k.mu.
func (k *KeyStore) persist(change func(*Config)) error {
	if k.path == "" {
		return nil
	}
	onDisk, err := LoadFile(k.path)
	if err != nil {
		return err
	}
	change(onDisk)
	return SaveTOML(onDisk, k.path)
}
