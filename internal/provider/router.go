// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/jeranaias/whisper/internal/logging"
)

// Router is an Adapter that forwards to the family adapter of the
// configured model. Family adapters are created once and reused.
type Router struct {
	opts Options

	mu       sync.RWMutex
	adapters map[Family]Adapter
	active   Adapter
	modelID  string
	keyFP    string
}

// NewRouter creates a router with the given options.
func NewRouter(opts Options) *Router {
	return &Router{
		opts:     opts,
		adapters: make(map[Family]Adapter),
	}
}

// WithAdapter registers a custom adapter for a family.
func (r *Router) WithAdapter(f Family, a Adapter) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[f] = a
	return r
}

// Configure implements Adapter. A failed Configure leaves the router
// unconfigured so a stale selection is never used. Repeating the current
// selection is a no-op, so turns on other topics are not disturbed.
func (r *Router) Configure(modelID, apiKey string) error {
	info, ok := Lookup(modelID)
	fp := keyFingerprint(strings.TrimSpace(apiKey))

	r.mu.Lock()
	defer r.mu.Unlock()
	if ok && r.active != nil && r.modelID == modelID && r.keyFP == fp && strings.TrimSpace(apiKey) != "" {
		return nil
	}
	r.active = nil
	r.modelID = ""
	r.keyFP = ""

	if !ok {
		return configError(ErrUnknownModel, "unknown model %q", modelID)
	}
	a := r.adapterFor(info.Family)
	if err := a.Configure(modelID, apiKey); err != nil {
		return err
	}
	r.active = a
	r.modelID = modelID
	r.keyFP = fp
	logging.Debug("provider: configured %s (%s) key=%s", modelID, info.Family, fp)
	return nil
}

// adapterFor returns the cached family adapter. Caller holds r.mu.
func (r *Router) adapterFor(f Family) Adapter {
	if a, ok := r.adapters[f]; ok {
		return a
	}
	var a Adapter
	switch f {
	case FamilyGemini:
		a = NewGeminiAdapter(r.opts)
	case FamilyAnthropic:
		a = NewAnthropicAdapter(r.opts)
	default:
		// openai and groq share one chat completions adapter.
		a = NewOpenAIAdapter(r.opts)
		r.adapters[FamilyOpenAI] = a
		r.adapters[FamilyGroq] = a
	}
	r.adapters[f] = a
	return a
}

// Generate implements Adapter.
func (r *Router) Generate(ctx context.Context, req Request) Result {
	r.mu.RLock()
	a := r.active
	r.mu.RUnlock()
	if a == nil {
		return failure(configError(ErrNotConfigured, "no model selected"))
	}
	return a.Generate(ctx, req)
}

// ModelID returns the configured model, or "" when unconfigured.
func (r *Router) ModelID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modelID
}
