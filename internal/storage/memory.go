// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sync"

	"github.com/jeranaias/whisper/internal/model"
)

// MemoryStore keeps history in process memory. Nothing survives Close.
type MemoryStore struct {
	mu     sync.RWMutex
	topics map[string][]model.ChatMessage
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{topics: make(map[string][]model.ChatMessage)}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, topic string, msgs ...model.ChatMessage) error {
	if err := checkTopic(topic); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if len(msgs) == 0 {
		return nil
	}
	s.topics[topic] = append(s.topics[topic], msgs...)
	return nil
}

// FetchPage implements Store.
func (s *MemoryStore) FetchPage(ctx context.Context, topic string, limit, offset int) (Page, error) {
	if err := checkPage(limit, offset); err != nil {
		return Page{}, err
	}
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Page{}, ErrClosed
	}
	msgs := s.topics[topic]
	start, end := window(len(msgs), limit, offset)
	return Page{Messages: cloneMessages(msgs[start:end]), TotalCount: len(msgs)}, nil
}

// FetchAll implements Store.
func (s *MemoryStore) FetchAll(ctx context.Context, topic string) ([]model.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return cloneMessages(s.topics[topic]), nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.topics, topic)
	return nil
}

// Topics implements Store.
func (s *MemoryStore) Topics(ctx context.Context) ([]TopicMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	metas := make([]TopicMeta, 0, len(s.topics))
	for topic, msgs := range s.topics {
		if len(msgs) > 0 {
			metas = append(metas, topicMeta(topic, msgs))
		}
	}
	sortTopics(metas)
	return metas, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.topics = nil
	return nil
}
