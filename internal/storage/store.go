// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/whisper/internal/model"
	"github.com/jeranaias/whisper/internal/util"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is durable, per-topic message history.
type Store interface {
	// Append adds msgs to the end of topic. The batch is all or nothing.
	Append(ctx context.Context, topic string, msgs ...model.ChatMessage) error

	// FetchPage returns at most limit messages ending offset messages
	// before the newest, oldest first, plus the topic's total count.
	FetchPage(ctx context.Context, topic string, limit, offset int) (Page, error)

	// FetchAll returns the full sequence oldest first.
	FetchAll(ctx context.Context, topic string) ([]model.ChatMessage, error)

	// Clear atomically removes every message of topic.
	Clear(ctx context.Context, topic string) error

	// Topics lists the non-empty topics, most recently updated first.
	Topics(ctx context.Context) ([]TopicMeta, error)

	Close() error
}

// Page is one window of a topic's history.
type Page struct {
	Messages   []model.ChatMessage `json:"messages"`
	TotalCount int                 `json:"totalCount"`
}

// HasMore reports whether older messages exist before this page.
func (p Page) HasMore(offset int) bool {
	return offset+len(p.Messages) < p.TotalCount
}

// TopicMeta contains metadata for listing topics.
type TopicMeta struct {
	Topic        string    `json:"topic"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
	Preview      string    `json:"preview"` // first user message truncated
}

// PreviewLength is the rune limit for TopicMeta.Preview.
const PreviewLength = 60

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidPage is returned for limit <= 0 or offset < 0.
	ErrInvalidPage = &StoreError{Message: "invalid page window"}

	// ErrInvalidTopic is returned for an empty topic key.
	ErrInvalidTopic = &StoreError{Message: "invalid topic"}

	// ErrClosed is returned by every operation after Close.
	ErrClosed = &StoreError{Message: "store is closed"}
)

// StoreError represents a storage error. It can be compared using
// errors.Is against the package sentinels.
type StoreError struct {
	Message string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing store errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// HELPERS
// =============================================================================

// window returns the [start, end) slice bounds of a page over total
// messages. Callers have already validated limit and offset.
func window(total, limit, offset int) (start, end int) {
	if offset >= total {
		return total, total
	}
	end = total - offset
	start = end - limit
	if start < 0 {
		start = 0
	}
	return start, end
}

func checkPage(limit, offset int) error {
	if limit <= 0 || offset < 0 {
		return ErrInvalidPage
	}
	return nil
}

func checkTopic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return ErrInvalidTopic
	}
	return nil
}

// topicMeta builds listing metadata from a full message sequence.
func topicMeta(topic string, msgs []model.ChatMessage) TopicMeta {
	meta := TopicMeta{Topic: topic, MessageCount: len(msgs)}
	for _, m := range msgs {
		if m.Timestamp.After(meta.UpdatedAt) {
			meta.UpdatedAt = m.Timestamp
		}
		if meta.Preview == "" && m.Role == model.RoleUser {
			meta.Preview = util.TruncateRunes(util.SingleLine(m.Text()), PreviewLength)
		}
	}
	return meta
}

func sortTopics(metas []TopicMeta) {
	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].UpdatedAt.Equal(metas[j].UpdatedAt) {
			return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
		}
		return metas[i].Topic < metas[j].Topic
	})
}

func cloneMessages(msgs []model.ChatMessage) []model.ChatMessage {
	if len(msgs) == 0 {
		return []model.ChatMessage{}
	}
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*BoltStore)(nil)
)
