// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/whisper/internal/model"
	bolt "go.etcd.io/bbolt"
)

// topicsBucket holds one nested bucket per topic. Inside, keys are
// big-endian sequence numbers so cursor order is append order.
var topicsBucket = []byte("topics")

// BoltStore keeps history in a bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(topicsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create topics bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Append implements Store. The batch is one Update transaction.
func (s *BoltStore) Append(ctx context.Context, topic string, msgs ...model.ChatMessage) error {
	if err := checkTopic(topic); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(topicsBucket).CreateBucketIfNotExists([]byte(topic))
		if err != nil {
			return err
		}
		for _, m := range msgs {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			v, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("encode message %s: %w", m.ID, err)
			}
			if err := b.Put(seqKey(seq), v); err != nil {
				return err
			}
		}
		return nil
	})
	return s.wrap("append", err)
}

// FetchPage implements Store. The cursor walks back from the newest key.
func (s *BoltStore) FetchPage(ctx context.Context, topic string, limit, offset int) (Page, error) {
	if err := checkPage(limit, offset); err != nil {
		return Page{}, err
	}
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	page := Page{Messages: []model.ChatMessage{}}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(topicsBucket).Bucket([]byte(topic))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			page.TotalCount++
		}
		start, end := window(page.TotalCount, limit, offset)
		if start == end {
			return nil
		}
		newest := make([]model.ChatMessage, 0, end-start)
		i := page.TotalCount
		for k, v := c.Last(); k != nil && i > start; k, v = c.Prev() {
			i--
			if i >= end {
				continue
			}
			var m model.ChatMessage
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decode message in %q: %w", topic, err)
			}
			newest = append(newest, m)
		}
		for j := len(newest) - 1; j >= 0; j-- {
			page.Messages = append(page.Messages, newest[j])
		}
		return nil
	})
	if err != nil {
		return Page{}, s.wrap("fetch page", err)
	}
	return page, nil
}

// FetchAll implements Store.
func (s *BoltStore) FetchAll(ctx context.Context, topic string) ([]model.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msgs := []model.ChatMessage{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(topicsBucket).Bucket([]byte(topic))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var m model.ChatMessage
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decode message in %q: %w", topic, err)
			}
			msgs = append(msgs, m)
			return nil
		})
	})
	if err != nil {
		return nil, s.wrap("fetch all", err)
	}
	return msgs, nil
}

// Clear implements Store. Deleting the topic bucket is one transaction.
func (s *BoltStore) Clear(ctx context.Context, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(topicsBucket).DeleteBucket([]byte(topic))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	return s.wrap("clear", err)
}

// Topics implements Store.
func (s *BoltStore) Topics(ctx context.Context) ([]TopicMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metas := []TopicMeta{}
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(topicsBucket)
		return root.ForEach(func(name, v []byte) error {
			if v != nil {
				return nil // not a bucket
			}
			var msgs []model.ChatMessage
			if err := root.Bucket(name).ForEach(func(_, raw []byte) error {
				var m model.ChatMessage
				if err := json.Unmarshal(raw, &m); err != nil {
					return err
				}
				msgs = append(msgs, m)
				return nil
			}); err != nil {
				return fmt.Errorf("decode topic %q: %w", name, err)
			}
			if len(msgs) > 0 {
				metas = append(metas, topicMeta(string(name), msgs))
			}
			return nil
		})
	})
	if err != nil {
		return nil, s.wrap("list topics", err)
	}
	sortTopics(metas)
	return metas, nil
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return fmt.Errorf("bolt %s: %w", op, err)
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
