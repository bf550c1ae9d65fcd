// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/jeranaias/whisper/internal/conversation"
	"github.com/jeranaias/whisper/internal/logging"
	"github.com/jeranaias/whisper/internal/provider"
	"github.com/jeranaias/whisper/internal/storage"
)

// ErrHubClosed is returned by Get after Close.
var ErrHubClosed = errors.New("server is shutting down")

// Hub keeps one conversation service per topic. Every service shares the
// hub's adapter and store, and each keeps its own topic open for life, so
// turns on different topics never disturb each other.
type Hub struct {
	adapter provider.Adapter
	store   storage.Store
	opts    []conversation.Option

	mu       sync.Mutex
	services map[string]*conversation.Service
	closed   bool
}

// NewHub creates a hub. opts are applied to every service it creates.
func NewHub(adapter provider.Adapter, store storage.Store, opts ...conversation.Option) *Hub {
	return &Hub{
		adapter:  adapter,
		store:    store,
		opts:     opts,
		services: make(map[string]*conversation.Service),
	}
}

// Get returns the service for topic, opening it on first use. The store
// read happens outside the hub lock so a slow topic does not hold up the
// others. Services live until Close; the bridge serves one user, who
// visits a bounded number of problems per run.
func (h *Hub) Get(ctx context.Context, topic string) (*conversation.Service, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, storage.ErrInvalidTopic
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if svc, ok := h.services[topic]; ok {
		h.mu.Unlock()
		return svc, nil
	}
	h.mu.Unlock()

	svc := conversation.NewService(h.adapter, h.store, h.opts...)
	if err := svc.Open(ctx, topic); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		svc.Close()
		return nil, ErrHubClosed
	}
	if existing, ok := h.services[topic]; ok {
		// Another request opened it first.
		svc.Close()
		return existing, nil
	}
	h.services[topic] = svc
	logging.Debug("server: opened topic %q", topic)
	return svc, nil
}

// Topics returns the topics with a live service, sorted.
func (h *Hub) Topics() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.services))
	for t := range h.services {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Store returns the shared store.
func (h *Hub) Store() storage.Store {
	return h.store
}

// Close ends every service's subscriptions. The store is left open.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for topic, svc := range h.services {
		svc.Close()
		delete(h.services, topic)
	}
}
