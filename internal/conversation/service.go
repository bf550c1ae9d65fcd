// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/whisper/internal/hostctx"
	"github.com/jeranaias/whisper/internal/logging"
	"github.com/jeranaias/whisper/internal/model"
	"github.com/jeranaias/whisper/internal/parser"
	"github.com/jeranaias/whisper/internal/prompt"
	"github.com/jeranaias/whisper/internal/provider"
	"github.com/jeranaias/whisper/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrTurnInFlight is returned when the topic already has an unsettled turn.
	ErrTurnInFlight = errors.New("a turn is already in flight for this topic")

	// ErrEmptyTurn is returned for blank input.
	ErrEmptyTurn = errors.New("message is empty")

	// ErrNoTopic is returned when no topic has been opened.
	ErrNoTopic = errors.New("no topic is open")

	// ErrStaleResult accompanies a reply whose topic was switched away
	// before it settled. The reply was persisted but not applied.
	ErrStaleResult = errors.New("topic changed before the reply arrived")
)

// =============================================================================
// SERVICE
// =============================================================================

// Service runs conversations against one adapter and one store.
type Service struct {
	adapter provider.Adapter
	store   storage.Store

	problems        hostctx.ProblemSource
	code            hostctx.CodeSource
	keys            KeyStore
	template        string
	sentinel        string
	defaultLanguage string
	pageSize        int
	parse           func(string) model.StructuredContent

	mu       sync.Mutex
	topic    string
	epoch    uint64 // bumped by Open
	messages []model.ChatMessage
	visible  int // newest messages already surfaced, for LoadMore
	inflight map[string]bool

	events *broadcaster
}

// NewService creates a service. No topic is open until Open is called.
func NewService(adapter provider.Adapter, store storage.Store, opts ...Option) *Service {
	s := &Service{
		adapter:         adapter,
		store:           store,
		problems:        hostctx.StaticProblem{},
		code:            hostctx.StaticCode(""),
		template:        prompt.DefaultTemplate,
		sentinel:        prompt.DefaultNoCodeSentinel,
		defaultLanguage: prompt.DefaultLanguage,
		pageSize:        DefaultPageSize,
		parse:           parser.Parse,
		inflight:        make(map[string]bool),
		events:          newBroadcaster(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open makes topic active and loads its working copy from the store.
func (s *Service) Open(ctx context.Context, topic string) error {
	if strings.TrimSpace(topic) == "" {
		return storage.ErrInvalidTopic
	}
	msgs, err := s.store.FetchAll(ctx, topic)
	if err != nil {
		return fmt.Errorf("load topic %q: %w", topic, err)
	}

	s.mu.Lock()
	if s.topic != topic && s.inflight[s.topic] {
		logging.Debug("conversation: leaving %q with a turn in flight", s.topic)
	}
	s.topic = topic
	s.epoch++
	s.messages = msgs
	s.visible = 0
	state := s.stateLocked()
	s.mu.Unlock()

	s.events.publish(Event{Type: EventOpened, Topic: topic, State: state})
	return nil
}

// Topic returns the active topic, or "" before Open.
func (s *Service) Topic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topic
}

// State returns the active topic's turn state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Service) stateLocked() State {
	if s.inflight[s.topic] {
		return StateSending
	}
	return StateIdle
}

// Messages returns a snapshot of the working copy, oldest first.
func (s *Service) Messages() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Subscribe returns a channel of events and a function that ends the
// subscription. Slow subscribers miss events rather than block turns.
func (s *Service) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// Close ends all subscriptions. The adapter and store are not closed.
func (s *Service) Close() {
	s.events.closeAll()
}

// =============================================================================
// TURNS
// =============================================================================

// SendTurn sends text on the active topic and returns the assistant reply.
//
// Provider and configuration failures are not errors: they come back as a
// plain-text assistant message. Errors are ErrEmptyTurn, ErrNoTopic,
// ErrTurnInFlight, a wrapped store error (the turn is rolled back from the
// working copy), or ErrStaleResult alongside a persisted reply.
func (s *Service) SendTurn(ctx context.Context, text string, opts ...TurnOption) (model.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return model.ChatMessage{}, ErrEmptyTurn
	}
	var tc turnContext
	for _, opt := range opts {
		opt(&tc)
	}

	s.mu.Lock()
	topic := s.topic
	if topic == "" {
		s.mu.Unlock()
		return model.ChatMessage{}, ErrNoTopic
	}
	if s.inflight[topic] {
		s.mu.Unlock()
		return model.ChatMessage{}, ErrTurnInFlight
	}
	s.inflight[topic] = true
	epoch := s.epoch
	history := make([]model.ChatMessage, len(s.messages))
	copy(history, s.messages)
	user := model.NewUserMessage(text)
	s.messages = append(s.messages, user)
	s.mu.Unlock()

	s.events.publish(Event{Type: EventMessage, Topic: topic, State: StateSending, Message: &user})
	s.events.publish(Event{Type: EventState, Topic: topic, State: StateSending})

	defer func() {
		s.mu.Lock()
		delete(s.inflight, topic)
		s.mu.Unlock()
		s.events.publish(Event{Type: EventState, Topic: topic, State: StateIdle})
	}()

	reply := s.generate(ctx, text, history, tc)
	assistant := model.NewAssistantMessage(reply)
	if !assistant.Timestamp.After(user.Timestamp) {
		assistant.Timestamp = user.Timestamp.Add(time.Microsecond)
	}

	// A reply that came back is recorded even if the caller gave up waiting.
	persistCtx := context.WithoutCancel(ctx)
	if err := s.store.Append(persistCtx, topic, user, assistant); err != nil {
		s.rollback(topic, user)
		s.events.publish(Event{Type: EventState, Topic: topic, State: StateSettled, Error: err.Error()})
		return model.ChatMessage{}, fmt.Errorf("persist turn: %w", err)
	}

	s.mu.Lock()
	stale := topic != s.topic
	if !stale {
		if epoch != s.epoch {
			// Reopened mid-turn: the working copy was reloaded from the store.
			s.ensureLocked(user)
		}
		s.ensureLocked(assistant)
		s.visible += 2
	}
	s.mu.Unlock()

	if stale {
		logging.Debug("conversation: discarding reply for %q after topic switch", topic)
		return assistant, ErrStaleResult
	}
	s.events.publish(Event{Type: EventMessage, Topic: topic, State: StateSettled, Message: &assistant})
	s.events.publish(Event{Type: EventState, Topic: topic, State: StateSettled})
	return assistant, nil
}

// generate produces the assistant content for one turn. It never fails;
// every failure becomes plain text.
func (s *Service) generate(ctx context.Context, text string, history []model.ChatMessage, tc turnContext) model.Content {
	problem, err := s.problem(ctx, tc)
	if err != nil {
		logging.Warn("conversation: problem source: %v", err)
		return model.Text("Could not read the problem statement: " + err.Error())
	}
	code := s.userCode(ctx, tc)

	vars := prompt.Vars{
		ProblemStatement:    problem.Statement,
		ProgrammingLanguage: problem.Language,
		UserCode:            code,
	}.WithDefaults(s.sentinel, s.defaultLanguage)
	system := prompt.Build(s.template, vars)

	if perr := s.configure(); perr != nil {
		return model.Text(perr.Error())
	}

	result := s.adapter.Generate(ctx, provider.Request{
		SystemPrompt: system,
		UserPrompt:   text,
		History:      history,
	})
	if !result.OK() {
		logging.Info("conversation: generation failed: %s", result.Err.Detail())
		return model.Text(result.Err.Error())
	}
	return model.Structured(s.parse(result.Text))
}

// configure applies the key store selection to the adapter.
func (s *Service) configure() error {
	if s.keys == nil {
		return nil
	}
	id := s.keys.Selection()
	if id == "" {
		return &provider.Error{
			Kind:    provider.KindConfiguration,
			Message: "No model selected. Choose one with `whisper models` and `whisper key`.",
			Cause:   provider.ErrNotConfigured,
		}
	}
	key, _ := s.keys.Credentials(id)
	return s.adapter.Configure(id, key)
}

func (s *Service) problem(ctx context.Context, tc turnContext) (hostctx.Problem, error) {
	if tc.problem != nil {
		return *tc.problem, nil
	}
	return s.problems.Problem(ctx)
}

// userCode is best effort: a failing code source counts as no code.
func (s *Service) userCode(ctx context.Context, tc turnContext) string {
	if tc.code != nil {
		return *tc.code
	}
	code, err := s.code.Code(ctx)
	if err != nil {
		logging.Warn("conversation: code source: %v", err)
		return ""
	}
	return code
}

// ensureLocked appends m to the working copy unless it is already there.
// Caller holds s.mu.
func (s *Service) ensureLocked(m model.ChatMessage) {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == m.ID {
			return
		}
	}
	s.messages = append(s.messages, m)
}

// rollback removes an unpersisted user message from the working copy.
func (s *Service) rollback(topic string, user model.ChatMessage) {
	s.mu.Lock()
	removed := false
	if topic == s.topic {
		for i := len(s.messages) - 1; i >= 0; i-- {
			if s.messages[i].ID == user.ID {
				s.messages = append(s.messages[:i], s.messages[i+1:]...)
				removed = true
				break
			}
		}
	}
	s.mu.Unlock()
	if removed {
		s.events.publish(Event{Type: EventRollback, Topic: topic, State: StateSettled, Message: &user})
	}
}

// =============================================================================
// HISTORY
// =============================================================================

// LoadPage reads a window of the active topic's history from the store.
func (s *Service) LoadPage(ctx context.Context, limit, offset int) (storage.Page, error) {
	topic := s.Topic()
	if topic == "" {
		return storage.Page{}, ErrNoTopic
	}
	return s.store.FetchPage(ctx, topic, limit, offset)
}

// LoadMore returns the next older page of the active topic. The first call
// after Open returns the newest page. An empty page means history is
// exhausted.
func (s *Service) LoadMore(ctx context.Context) (storage.Page, error) {
	s.mu.Lock()
	topic, epoch, offset := s.topic, s.epoch, s.visible
	s.mu.Unlock()
	if topic == "" {
		return storage.Page{}, ErrNoTopic
	}

	page, err := s.store.FetchPage(ctx, topic, s.pageSize, offset)
	if err != nil {
		return storage.Page{}, err
	}

	s.mu.Lock()
	if epoch == s.epoch && s.visible == offset {
		s.visible += len(page.Messages)
	}
	s.mu.Unlock()
	return page, nil
}

// HasMore reports whether LoadMore would return older messages.
func (s *Service) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible < len(s.messages)
}

// ClearConversation clears the active topic in the store, then the
// working copy. It is rejected while a turn is in flight.
func (s *Service) ClearConversation(ctx context.Context) error {
	s.mu.Lock()
	topic := s.topic
	if topic == "" {
		s.mu.Unlock()
		return ErrNoTopic
	}
	if s.inflight[topic] {
		s.mu.Unlock()
		return ErrTurnInFlight
	}
	// Hold the topic busy so no turn starts mid-clear.
	s.inflight[topic] = true
	s.mu.Unlock()

	err := s.store.Clear(ctx, topic)

	s.mu.Lock()
	delete(s.inflight, topic)
	if err == nil && s.topic == topic {
		s.messages = nil
		s.visible = 0
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("clear topic %q: %w", topic, err)
	}
	s.events.publish(Event{Type: EventCleared, Topic: topic, State: StateIdle})
	return nil
}
