// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/whisper/internal/logging"
	"github.com/jeranaias/whisper/internal/model"
	"github.com/jeranaias/whisper/internal/util"
)

// topicDocument is the on-disk form of one topic.
type topicDocument struct {
	Topic     string              `json:"topic"`
	UpdatedAt time.Time           `json:"updated_at"`
	Messages  []model.ChatMessage `json:"messages"`
}

// FileStore keeps one JSON document per topic under BaseDir. Every write
// replaces the whole document atomically.
type FileStore struct {
	// BaseDir is the directory for topic documents.
	// Default: ~/.whisper/conversations/
	BaseDir string

	mu     sync.Mutex
	closed bool
}

// NewFileStore creates a store rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("create conversation directory: %w", err)
	}
	return &FileStore{BaseDir: baseDir}, nil
}

// Append implements Store.
func (s *FileStore) Append(ctx context.Context, topic string, msgs ...model.ChatMessage) error {
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

	doc, err := s.load(topic)
	if err != nil {
		return err
	}
	doc.Messages = append(doc.Messages, msgs...)
	doc.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode topic %q: %w", topic, err)
	}
	if err := util.AtomicWriteFileWithDir(s.filePath(topic), data, 0o600, 0o700); err != nil {
		return fmt.Errorf("write topic %q: %w", topic, err)
	}
	return nil
}

// FetchPage implements Store.
func (s *FileStore) FetchPage(ctx context.Context, topic string, limit, offset int) (Page, error) {
	if err := checkPage(limit, offset); err != nil {
		return Page{}, err
	}
	msgs, err := s.FetchAll(ctx, topic)
	if err != nil {
		return Page{}, err
	}
	start, end := window(len(msgs), limit, offset)
	return Page{Messages: msgs[start:end], TotalCount: len(msgs)}, nil
}

// FetchAll implements Store.
func (s *FileStore) FetchAll(ctx context.Context, topic string) ([]model.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	doc, err := s.load(topic)
	if err != nil {
		return nil, err
	}
	return cloneMessages(doc.Messages), nil
}

// Clear implements Store. Removing the file is the atomic step.
func (s *FileStore) Clear(ctx context.Context, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := os.Remove(s.filePath(topic)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear topic %q: %w", topic, err)
	}
	return nil
}

// Topics implements Store. Unreadable documents are skipped with a warning.
func (s *FileStore) Topics(ctx context.Context) ([]TopicMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []TopicMeta{}, nil
		}
		return nil, err
	}

	metas := make([]TopicMeta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		doc, err := readDocument(filepath.Join(s.BaseDir, entry.Name()))
		if err != nil {
			logging.Warn("storage: skipping %s: %v", entry.Name(), err)
			continue
		}
		if len(doc.Messages) == 0 {
			continue
		}
		metas = append(metas, topicMeta(doc.Topic, doc.Messages))
	}
	sortTopics(metas)
	return metas, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// load reads a topic document. A missing file is an empty topic.
// Caller holds s.mu.
func (s *FileStore) load(topic string) (*topicDocument, error) {
	doc, err := readDocument(s.filePath(topic))
	if errors.Is(err, os.ErrNotExist) {
		return &topicDocument{Topic: topic}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read topic %q: %w", topic, err)
	}
	if doc.Topic != topic {
		return nil, fmt.Errorf("read topic %q: document belongs to %q", topic, doc.Topic)
	}
	return doc, nil
}

func readDocument(path string) (*topicDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc topicDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *FileStore) filePath(topic string) string {
	return filepath.Join(s.BaseDir, util.SafeFileName(topic)+".json")
}
