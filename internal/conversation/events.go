// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"fmt"
	"sync"

	"github.com/jeranaias/whisper/internal/logging"
	"github.com/jeranaias/whisper/internal/model"
)

// State is the turn state of a topic.
type State int

const (
	StateIdle State = iota
	StateSending
	StateSettled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "sending":
		*s = StateSending
	case "settled":
		*s = StateSettled
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// EventType identifies what changed.
type EventType string

const (
	// EventMessage is a message added to the working copy.
	EventMessage EventType = "message"
	// EventState is a turn state transition.
	EventState EventType = "state"
	// EventCleared is a cleared conversation.
	EventCleared EventType = "cleared"
	// EventRollback is a message removed after a failed persist.
	EventRollback EventType = "rollback"
	// EventOpened is a topic switch.
	EventOpened EventType = "opened"
)

// Event is a change notification.
type Event struct {
	Type    EventType          `json:"type"`
	Topic   string             `json:"topic"`
	State   State              `json:"state"`
	Message *model.ChatMessage `json:"message,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// eventBufferSize is the per-subscriber channel capacity. Events beyond it
// are dropped for that subscriber.
const eventBufferSize = 64

type broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, eventBufferSize)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			logging.Debug("conversation: subscriber %d is full, dropping %s event", id, ev.Type)
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
