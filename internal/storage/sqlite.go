// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/whisper/internal/model"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// sqliteSchema holds one row per message. seq orders a topic's messages.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	topic     TEXT    NOT NULL,
	seq       INTEGER NOT NULL,
	id        TEXT    NOT NULL,
	role      TEXT    NOT NULL,
	content   TEXT    NOT NULL,
	timestamp TEXT    NOT NULL,
	PRIMARY KEY (topic, seq)
);
`

// timeLayout is fixed width so MAX(timestamp) orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps history in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer; a single connection serializes everything.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Append implements Store. The batch is written in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, topic string, msgs ...model.ChatMessage) error {
	if err := checkTopic(topic); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return ctx.Err()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("begin append", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM messages WHERE topic = ?", topic,
	).Scan(&next); err != nil {
		return s.wrap("read sequence", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (topic, seq, id, role, content, timestamp) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return s.wrap("prepare insert", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		next++
		content, err := json.Marshal(m.Content)
		if err != nil {
			return fmt.Errorf("encode message %s: %w", m.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			topic, next, m.ID, string(m.Role), string(content), m.Timestamp.UTC().Format(timeLayout),
		); err != nil {
			return s.wrap("insert message", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.wrap("commit append", err)
	}
	return nil
}

// FetchPage implements Store. Count and window are read in one
// transaction so they agree.
func (s *SQLiteStore) FetchPage(ctx context.Context, topic string, limit, offset int) (Page, error) {
	if err := checkPage(limit, offset); err != nil {
		return Page{}, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Page{}, s.wrap("begin fetch", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE topic = ?", topic,
	).Scan(&total); err != nil {
		return Page{}, s.wrap("count messages", err)
	}

	start, end := window(total, limit, offset)
	if start == end {
		return Page{Messages: []model.ChatMessage{}, TotalCount: total}, nil
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT id, role, content, timestamp FROM messages WHERE topic = ? ORDER BY seq LIMIT ? OFFSET ?",
		topic, end-start, start)
	if err != nil {
		return Page{}, s.wrap("query page", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return Page{}, err
	}
	return Page{Messages: msgs, TotalCount: total}, nil
}

// FetchAll implements Store.
func (s *SQLiteStore) FetchAll(ctx context.Context, topic string) ([]model.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, role, content, timestamp FROM messages WHERE topic = ? ORDER BY seq", topic)
	if err != nil {
		return nil, s.wrap("query messages", err)
	}
	return scanMessages(rows)
}

// Clear implements Store. A single DELETE is atomic.
func (s *SQLiteStore) Clear(ctx context.Context, topic string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE topic = ?", topic); err != nil {
		return s.wrap("clear topic", err)
	}
	return nil
}

// Topics implements Store.
func (s *SQLiteStore) Topics(ctx context.Context) ([]TopicMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.topic, COUNT(*), MAX(m.timestamp),
			COALESCE((SELECT u.content FROM messages u
				WHERE u.topic = m.topic AND u.role = 'user'
				ORDER BY u.seq LIMIT 1), '')
		FROM messages m
		GROUP BY m.topic`)
	if err != nil {
		return nil, s.wrap("list topics", err)
	}
	defer rows.Close()

	metas := []TopicMeta{}
	for rows.Next() {
		var (
			topic, updated, first string
			count                 int
		)
		if err := rows.Scan(&topic, &count, &updated, &first); err != nil {
			return nil, s.wrap("scan topic", err)
		}
		meta := TopicMeta{Topic: topic, MessageCount: count}
		meta.UpdatedAt, _ = time.Parse(timeLayout, updated)
		if first != "" {
			var c model.Content
			if err := json.Unmarshal([]byte(first), &c); err == nil {
				msg := model.ChatMessage{Role: model.RoleUser, Content: c}
				meta.Preview = topicMeta(topic, []model.ChatMessage{msg}).Preview
			}
		}
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("list topics", err)
	}
	sortTopics(metas)
	return metas, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// wrap maps a closed database to ErrClosed and annotates everything else.
func (s *SQLiteStore) wrap(op string, err error) error {
	if err.Error() == "sql: database is closed" {
		return ErrClosed
	}
	return fmt.Errorf("sqlite %s: %w", op, err)
}

func scanMessages(rows *sql.Rows) ([]model.ChatMessage, error) {
	defer rows.Close()
	msgs := []model.ChatMessage{}
	for rows.Next() {
		var (
			m                    model.ChatMessage
			role, content, stamp string
		)
		if err := rows.Scan(&m.ID, &role, &content, &stamp); err != nil {
			return nil, fmt.Errorf("sqlite scan message: %w", err)
		}
		m.Role = model.Role(role)
		if err := json.Unmarshal([]byte(content), &m.Content); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", m.ID, err)
		}
		ts, err := time.Parse(timeLayout, stamp)
		if err != nil {
			return nil, fmt.Errorf("decode message %s timestamp: %w", m.ID, err)
		}
		m.Timestamp = ts
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite read messages: %w", err)
	}
	return msgs, nil
}
