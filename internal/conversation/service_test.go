// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/whisper/internal/hostctx"
	"github.com/jeranaias/whisper/internal/model"
	"github.com/jeranaias/whisper/internal/provider"
	"github.com/jeranaias/whisper/internal/storage"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeAdapter struct {
	mu         sync.Mutex
	requests   []provider.Request
	configured []string
	results    []provider.Result

	// When gate is set Generate signals started and waits for gate.
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeAdapter) Configure(modelID, apiKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = append(f.configured, modelID)
	return nil
}

func (f *fakeAdapter) Generate(ctx context.Context, req provider.Request) provider.Result {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var res provider.Result
	if len(f.results) > 0 {
		res, f.results = f.results[0], f.results[1:]
	} else {
		res = provider.Result{Text: "FEEDBACK: ok"}
	}
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if gate != nil {
		started <- struct{}{}
		<-gate
	}
	return res
}

func (f *fakeAdapter) calls() []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Request(nil), f.requests...)
}

func gated(f *fakeAdapter) *fakeAdapter {
	f.gate = make(chan struct{})
	f.started = make(chan struct{}, 1)
	return f
}

// countingStore records Append batches and can be told to fail them.
type countingStore struct {
	storage.Store
	mu      sync.Mutex
	batches [][]model.ChatMessage
	fail    error
}

func (c *countingStore) Append(ctx context.Context, topic string, msgs ...model.ChatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.batches = append(c.batches, msgs)
	return c.Store.Append(ctx, topic, msgs...)
}

type fakeKeys struct {
	selection string
	keys      map[string]string
}

func (k fakeKeys) Selection() string { return k.selection }

func (k fakeKeys) Credentials(id string) (string, bool) {
	v, ok := k.keys[id]
	return v, ok
}

func newTestService(t *testing.T, a provider.Adapter, opts ...Option) (*Service, *countingStore) {
	t.Helper()
	store := &countingStore{Store: storage.NewMemoryStore()}
	svc := NewService(a, store, opts...)
	require.NoError(t, svc.Open(context.Background(), "two-sum"))
	return svc, store
}

// =============================================================================
// TURNS
// =============================================================================

func TestSendTurn_TwoSumScenario(t *testing.T) {
	adapter := &fakeAdapter{results: []provider.Result{{
		Text: "Think about a hash map.\nHINT: use one pass\nSNIPPET:```return nums.index(x)```",
	}}}
	svc, store := newTestService(t, adapter)
	ctx := context.Background()

	reply, err := svc.SendTurn(ctx, "give me a hint")
	require.NoError(t, err)

	sc, ok := reply.Content.Structured()
	require.True(t, ok)
	assert.Contains(t, sc.Feedback, "Think about a hash map.")
	assert.Equal(t, []string{"use one pass"}, sc.Hints)
	assert.Equal(t, "return nums.index(x)", sc.Snippet)

	stored, err := store.FetchAll(ctx, "two-sum")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, model.RoleUser, stored[0].Role)
	assert.Equal(t, "give me a hint", stored[0].Text())
	assert.Equal(t, model.RoleAssistant, stored[1].Role)
	assert.True(t, stored[1].IsStructured())

	assert.Len(t, store.batches, 1, "user and assistant are persisted in one append")
	assert.Len(t, store.batches[0], 2)

	assert.Equal(t, ids(stored), ids(svc.Messages()))
	assert.Equal(t, StateIdle, svc.State())
}

func TestSendTurn_TransportFailureBecomesReply(t *testing.T) {
	adapter := &fakeAdapter{results: []provider.Result{{
		Err: &provider.Error{Kind: provider.KindNetwork, Message: "network error: connection refused"},
	}}}
	svc, store := newTestService(t, adapter)
	ctx := context.Background()

	reply, err := svc.SendTurn(ctx, "hint please")
	require.NoError(t, err)
	assert.False(t, reply.IsStructured())
	assert.Equal(t, "network error: connection refused", reply.Text())

	stored, err := store.FetchAll(ctx, "two-sum")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "hint please", stored[0].Text(), "the user's turn is still recorded")
	assert.Equal(t, "network error: connection refused", stored[1].Text())
}

func TestSendTurn_ProviderMessageVerbatim(t *testing.T) {
	msg := "Incorrect API key provided: sk-****. You can find your API key at https://platform.openai.com."
	adapter := &fakeAdapter{results: []provider.Result{{
		Err: &provider.Error{Kind: provider.KindProvider, Message: msg, Status: 401, Cause: provider.ErrAuthFailed},
	}}}
	svc, _ := newTestService(t, adapter)

	reply, err := svc.SendTurn(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, msg, reply.Text())
}

func TestSendTurn_PromptAndHistory(t *testing.T) {
	adapter := &fakeAdapter{}
	svc, _ := newTestService(t, adapter,
		WithTemplate("P={{Problem_Statement}} L={{programming_language}} C={{user_code}}"),
		WithProblemSource(hostctx.StaticProblem{Topic: "two-sum", Statement: "Given nums", Language: "Go"}),
		WithCodeSource(hostctx.StaticCode("func twoSum() {}")),
	)
	ctx := context.Background()

	_, err := svc.SendTurn(ctx, "first")
	require.NoError(t, err)
	_, err = svc.SendTurn(ctx, "second")
	require.NoError(t, err)

	calls := adapter.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "P=Given nums L=Go C=func twoSum() {}", calls[0].SystemPrompt)
	assert.Equal(t, "first", calls[0].UserPrompt)
	assert.Empty(t, calls[0].History)

	assert.Equal(t, "second", calls[1].UserPrompt)
	require.Len(t, calls[1].History, 2, "history excludes the current turn")
	assert.Equal(t, "first", calls[1].History[0].Text())
	assert.Equal(t, model.RoleAssistant, calls[1].History[1].Role)
}

func TestSendTurn_NoCodeSentinel(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want string
	}{
		{"default sentinel", nil, "C=User did not wrote any code"},
		{"custom sentinel", []Option{WithNoCodeSentinel("// empty editor")}, "C=// empty editor"},
		{"disabled sentinel", []Option{WithNoCodeSentinel("")}, "C="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := &fakeAdapter{}
			opts := append([]Option{
				WithTemplate("L={{programming_language}} C={{user_code}}"),
				WithCodeSource(hostctx.StaticCode("   ")),
			}, tt.opts...)
			svc, _ := newTestService(t, adapter, opts...)

			_, err := svc.SendTurn(context.Background(), "hint")
			require.NoError(t, err)
			calls := adapter.calls()
			require.Len(t, calls, 1)
			assert.True(t, strings.HasSuffix(calls[0].SystemPrompt, tt.want), calls[0].SystemPrompt)
			assert.True(t, strings.HasPrefix(calls[0].SystemPrompt, "L=UNKNOWN"))
		})
	}
}

func TestSendTurn_SentinelFromCodeSourcePassesThrough(t *testing.T) {
	adapter := &fakeAdapter{}
	svc, _ := newTestService(t, adapter,
		WithTemplate("C={{user_code}}"),
		WithCodeSource(hostctx.StaticCode("User did not wrote any code")),
	)
	_, err := svc.SendTurn(context.Background(), "hint")
	require.NoError(t, err)
	assert.Equal(t, "C=User did not wrote any code", adapter.calls()[0].SystemPrompt)
}

func TestSendTurn_TurnOverrides(t *testing.T) {
	adapter := &fakeAdapter{}
	svc, _ := newTestService(t, adapter, WithTemplate("{{problem_statement}}|{{user_code}}"))

	_, err := svc.SendTurn(context.Background(), "hint",
		WithProblem(hostctx.Problem{Statement: "Reverse a list"}),
		WithCode("def f(): pass"))
	require.NoError(t, err)
	assert.Equal(t, "Reverse a list|def f(): pass", adapter.calls()[0].SystemPrompt)
}

func TestSendTurn_ConfigurationErrors(t *testing.T) {
	t.Run("no selection", func(t *testing.T) {
		adapter := &fakeAdapter{}
		svc, store := newTestService(t, adapter, WithKeyStore(fakeKeys{}))

		reply, err := svc.SendTurn(context.Background(), "hint")
		require.NoError(t, err)
		assert.Contains(t, reply.Text(), "No model selected")
		assert.Empty(t, adapter.calls(), "configuration failures never reach the provider")
		assert.Len(t, store.batches, 1)
	})

	t.Run("missing key", func(t *testing.T) {
		router := provider.NewRouter(provider.DefaultOptions())
		svc, _ := newTestService(t, router, WithKeyStore(fakeKeys{selection: "openai_4o"}))

		reply, err := svc.SendTurn(context.Background(), "hint")
		require.NoError(t, err)
		assert.False(t, reply.IsStructured())
		assert.Contains(t, reply.Text(), "API key")
	})

	t.Run("configured from key store", func(t *testing.T) {
		adapter := &fakeAdapter{}
		svc, _ := newTestService(t, adapter, WithKeyStore(fakeKeys{
			selection: "gemini_2.0_flash",
			keys:      map[string]string{"gemini_2.0_flash": "g"},
		}))
		_, err := svc.SendTurn(context.Background(), "hint")
		require.NoError(t, err)
		assert.Equal(t, []string{"gemini_2.0_flash"}, adapter.configured)
	})
}

func TestSendTurn_Rejections(t *testing.T) {
	svc := NewService(&fakeAdapter{}, storage.NewMemoryStore())
	_, err := svc.SendTurn(context.Background(), "hint")
	assert.ErrorIs(t, err, ErrNoTopic)

	require.NoError(t, svc.Open(context.Background(), "t"))
	_, err = svc.SendTurn(context.Background(), "  \n")
	assert.ErrorIs(t, err, ErrEmptyTurn)
	assert.Empty(t, svc.Messages())

	assert.ErrorIs(t, svc.Open(context.Background(), ""), storage.ErrInvalidTopic)
}

func TestSendTurn_InFlightGuard(t *testing.T) {
	adapter := gated(&fakeAdapter{})
	svc, store := newTestService(t, adapter)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := svc.SendTurn(ctx, "first")
		done <- err
	}()
	<-adapter.started

	assert.Equal(t, StateSending, svc.State())
	msgs := svc.Messages()
	require.Len(t, msgs, 1, "the user turn is visible while sending")
	assert.Equal(t, "first", msgs[0].Text())

	_, err := svc.SendTurn(ctx, "second")
	assert.ErrorIs(t, err, ErrTurnInFlight)
	assert.ErrorIs(t, svc.ClearConversation(ctx), ErrTurnInFlight)

	close(adapter.gate)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, svc.State())

	stored, err := store.FetchAll(ctx, "two-sum")
	require.NoError(t, err)
	assert.Len(t, stored, 2, "the rejected send left no trace")
	assert.Len(t, adapter.calls(), 1)
}

func TestSendTurn_StaleResultAfterTopicSwitch(t *testing.T) {
	adapter := gated(&fakeAdapter{})
	svc, store := newTestService(t, adapter)
	ctx := context.Background()

	type outcome struct {
		msg model.ChatMessage
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		msg, err := svc.SendTurn(ctx, "slow question")
		done <- outcome{msg, err}
	}()
	<-adapter.started

	require.NoError(t, svc.Open(ctx, "add-two-numbers"))
	assert.Equal(t, StateIdle, svc.State(), "the new topic is not sending")

	close(adapter.gate)
	out := <-done
	assert.ErrorIs(t, out.err, ErrStaleResult)
	assert.Equal(t, model.RoleAssistant, out.msg.Role)

	assert.Empty(t, svc.Messages(), "the stale reply is not applied to the new topic")

	stored, err := store.FetchAll(ctx, "two-sum")
	require.NoError(t, err)
	assert.Len(t, stored, 2, "the reply is still recorded under its own topic")
}

func TestSendTurn_ReopenedTopicKeepsReply(t *testing.T) {
	tests := []struct {
		name  string
		visit []string
	}{
		{"same topic reopened", []string{"two-sum"}},
		{"switched away and back", []string{"add-two-numbers", "two-sum"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter := gated(&fakeAdapter{})
			svc, store := newTestService(t, adapter)
			ctx := context.Background()

			done := make(chan error, 1)
			go func() {
				_, err := svc.SendTurn(ctx, "slow question")
				done <- err
			}()
			<-adapter.started
			for _, topic := range tc.visit {
				require.NoError(t, svc.Open(ctx, topic))
			}
			close(adapter.gate)
			require.NoError(t, <-done)

			stored, err := store.FetchAll(ctx, "two-sum")
			require.NoError(t, err)
			require.Len(t, stored, 2)
			working := svc.Messages()
			require.Len(t, working, 2, "the working copy matches the store")
			assert.Equal(t, stored[0].ID, working[0].ID)
			assert.Equal(t, stored[1].ID, working[1].ID)

			adapter.mu.Lock()
			adapter.gate = nil
			adapter.mu.Unlock()
			_, err = svc.SendTurn(ctx, "next question")
			require.NoError(t, err)
			calls := adapter.calls()
			require.Len(t, calls, 2)
			assert.Len(t, calls[1].History, 2, "the earlier exchange reaches the provider")
		})
	}
}

func TestSendTurn_StoreFailurePropagates(t *testing.T) {
	adapter := &fakeAdapter{}
	svc, store := newTestService(t, adapter)
	events, cancel := svc.Subscribe()
	defer cancel()

	boom := errors.New("disk full")
	store.fail = boom

	_, err := svc.SendTurn(context.Background(), "hint")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, svc.Messages(), "the working copy is rolled back")
	assert.Equal(t, StateIdle, svc.State())

	var sawRollback bool
	for len(events) > 0 {
		if ev := <-events; ev.Type == EventRollback {
			sawRollback = true
		}
	}
	assert.True(t, sawRollback)
}

func TestSendTurn_CanceledContextStillPersists(t *testing.T) {
	adapter := &fakeAdapter{results: []provider.Result{{
		Err: &provider.Error{Kind: provider.KindNetwork, Message: "request canceled", Cause: context.Canceled},
	}}}
	svc, store := newTestService(t, adapter)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply, err := svc.SendTurn(ctx, "hint")
	require.NoError(t, err)
	assert.Equal(t, "request canceled", reply.Text())

	stored, err := store.FetchAll(context.Background(), "two-sum")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestSendTurn_Events(t *testing.T) {
	svc, _ := newTestService(t, &fakeAdapter{})
	events, cancel := svc.Subscribe()
	defer cancel()

	_, err := svc.SendTurn(context.Background(), "hint")
	require.NoError(t, err)

	var got []string
	for len(events) > 0 {
		ev := <-events
		got = append(got, string(ev.Type)+":"+ev.State.String())
	}
	assert.Equal(t, []string{
		"message:sending",
		"state:sending",
		"message:settled",
		"state:settled",
		"state:idle",
	}, got)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestLoadMore_WalksBackwards(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	var seeded []model.ChatMessage
	for i := 0; i < 25; i++ {
		m := model.NewUserMessage(strings.Repeat("x", i+1))
		seeded = append(seeded, m)
	}
	require.NoError(t, store.Append(ctx, "long", seeded...))

	svc := NewService(&fakeAdapter{}, store, WithPageSize(10))
	require.NoError(t, svc.Open(ctx, "long"))
	assert.Len(t, svc.Messages(), 25)

	var rebuilt []model.ChatMessage
	sizes := []int{}
	for {
		page, err := svc.LoadMore(ctx)
		require.NoError(t, err)
		assert.Equal(t, 25, page.TotalCount)
		if len(page.Messages) == 0 {
			break
		}
		sizes = append(sizes, len(page.Messages))
		rebuilt = append(append([]model.ChatMessage{}, page.Messages...), rebuilt...)
	}
	assert.Equal(t, []int{10, 10, 5}, sizes)
	assert.Equal(t, ids(seeded), ids(rebuilt))
	assert.False(t, svc.HasMore())
}

func TestLoadMore_AccountsForNewTurns(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	var seeded []model.ChatMessage
	for i := 0; i < 6; i++ {
		seeded = append(seeded, model.NewUserMessage("old"))
	}
	require.NoError(t, store.Append(ctx, "t", seeded...))

	svc := NewService(&fakeAdapter{}, store, WithPageSize(4))
	require.NoError(t, svc.Open(ctx, "t"))

	first, err := svc.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids(seeded[2:]), ids(first.Messages))

	_, err = svc.SendTurn(ctx, "new")
	require.NoError(t, err)

	older, err := svc.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids(seeded[:2]), ids(older.Messages), "new turns do not shift older pages")
}

func TestLoadPage(t *testing.T) {
	svc, _ := newTestService(t, &fakeAdapter{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.SendTurn(ctx, "q")
		require.NoError(t, err)
	}
	page, err := svc.LoadPage(ctx, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, page.TotalCount)
	assert.Len(t, page.Messages, 4)

	_, err = svc.LoadPage(ctx, 0, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidPage)
}

func TestClearConversation(t *testing.T) {
	svc, store := newTestService(t, &fakeAdapter{})
	ctx := context.Background()
	_, err := svc.SendTurn(ctx, "q")
	require.NoError(t, err)

	require.NoError(t, svc.ClearConversation(ctx))
	assert.Empty(t, svc.Messages())
	all, err := store.FetchAll(ctx, "two-sum")
	require.NoError(t, err)
	assert.Empty(t, all)

	// The topic keeps working after a clear.
	_, err = svc.SendTurn(ctx, "again")
	require.NoError(t, err)
	assert.Len(t, svc.Messages(), 2)
}

func TestOpen_LoadsWorkingCopy(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Append(ctx, "a", model.NewUserMessage("from before")))

	svc := NewService(&fakeAdapter{}, store)
	require.NoError(t, svc.Open(ctx, "a"))
	assert.Equal(t, "a", svc.Topic())
	require.Len(t, svc.Messages(), 1)
	assert.Equal(t, "from before", svc.Messages()[0].Text())

	require.NoError(t, svc.Open(ctx, "b"))
	assert.Empty(t, svc.Messages())
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	svc, _ := newTestService(t, &fakeAdapter{})
	events, cancel := svc.Subscribe()
	cancel()
	cancel()
	_, ok := <-events
	assert.False(t, ok)

	// Publishing after unsubscribe must not panic.
	_, err := svc.SendTurn(context.Background(), "q")
	require.NoError(t, err)
	svc.Close()
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "sending", StateSending.String())
	assert.Equal(t, "settled", StateSettled.String())
	b, _ := StateSending.MarshalText()
	assert.Equal(t, "sending", string(b))

	var st State
	require.NoError(t, st.UnmarshalText([]byte("settled")))
	assert.Equal(t, StateSettled, st)
	assert.Error(t, st.UnmarshalText([]byte("bogus")))
}

func ids(msgs []model.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

