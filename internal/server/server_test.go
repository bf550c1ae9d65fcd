// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/whisper/internal/conversation"
	"github.com/jeranaias/whisper/internal/model"
	"github.com/jeranaias/whisper/internal/provider"
	"github.com/jeranaias/whisper/internal/storage"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeAdapter struct {
	mu       sync.Mutex
	requests []provider.Request
	result   provider.Result

	gate    chan struct{}
	started chan struct{}
}

func (f *fakeAdapter) Configure(modelID, apiKey string) error { return nil }

func (f *fakeAdapter) Generate(ctx context.Context, req provider.Request) provider.Result {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	res := f.result
	if res.Text == "" && res.Err == nil {
		res.Text = "FEEDBACK: Use a map.\nHINT: one pass"
	}
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if gate != nil {
		started <- struct{}{}
		<-gate
	}
	return res
}

func (f *fakeAdapter) lastRequest() provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
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

var testKeys = fakeKeys{selection: "openai_4o", keys: map[string]string{"openai_4o": "sk-secret-value"}}

func newTestServer(t *testing.T, a provider.Adapter) (*Server, *httptest.Server) {
	t.Helper()
	hub := NewHub(a, storage.NewMemoryStore(), conversation.WithKeyStore(testKeys))
	srv := New(Config{
		AllowedOrigins: []string{"chrome-extension://*", "https://leetcode.com"},
		Keys:           testKeys,
	}, hub)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return srv, ts
}

func postTurn(t *testing.T, ts *httptest.Server, topic string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/v1/topics/"+topic+"/turns", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// =============================================================================
// ROUTE TESTS
// =============================================================================

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, &fakeAdapter{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	var h HealthResponse
	decode(t, resp, &h)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, Version, h.Version)
}

func TestModels_NeverReturnsKeys(t *testing.T) {
	_, ts := newTestServer(t, &fakeAdapter{})

	resp, err := http.Get(ts.URL + "/v1/models")
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "sk-secret-value")

	var models ModelsResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &models))
	require.Len(t, models.Data, len(provider.Catalog()))
	for _, m := range models.Data {
		assert.Equal(t, m.ID == "openai_4o", m.Selected, m.ID)
		assert.Equal(t, m.ID == "openai_4o", m.Configured, m.ID)
	}
}

func TestTurn_RoundTrip(t *testing.T) {
	adapter := &fakeAdapter{}
	_, ts := newTestServer(t, adapter)

	resp := postTurn(t, ts, "two-sum", TurnRequest{
		Text:     "how do I start?",
		Problem:  "Given nums, return two indices that add to target.",
		Language: "python",
		Code:     strPtr("def twoSum(nums, target):\n    pass"),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var turn TurnResponse
	decode(t, resp, &turn)
	assert.Equal(t, "two-sum", turn.Topic)
	assert.Equal(t, model.RoleAssistant, turn.Message.Role)
	sc, ok := turn.Message.Content.Structured()
	require.True(t, ok)
	assert.Equal(t, []string{"one pass"}, sc.Hints)

	req := adapter.lastRequest()
	assert.Equal(t, "how do I start?", req.UserPrompt)
	assert.Contains(t, req.SystemPrompt, "return two indices")
	assert.Contains(t, req.SystemPrompt, "python")
	assert.Contains(t, req.SystemPrompt, "def twoSum")

	msgs, err := http.Get(ts.URL + "/v1/topics/two-sum/messages?limit=10")
	require.NoError(t, err)
	defer msgs.Body.Close()
	var page MessagesResponse
	decode(t, msgs, &page)
	assert.Equal(t, 2, page.TotalCount)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, model.RoleUser, page.Messages[0].Role)
	assert.True(t, page.Messages[1].IsStructured())
	assert.False(t, page.HasMore)
}

func TestTurn_ProviderFailureIsAReply(t *testing.T) {
	adapter := &fakeAdapter{result: provider.Result{Err: &provider.Error{
		Kind:    provider.KindProvider,
		Message: "Incorrect API key provided",
		Status:  401,
	}}}
	_, ts := newTestServer(t, adapter)

	resp := postTurn(t, ts, "two-sum", TurnRequest{Text: "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var turn TurnResponse
	decode(t, resp, &turn)
	assert.False(t, turn.Message.IsStructured())
	assert.Equal(t, "Incorrect API key provided", turn.Message.Text())
}

func TestTurn_BadRequests(t *testing.T) {
	_, ts := newTestServer(t, &fakeAdapter{})

	resp := postTurn(t, ts, "two-sum", TurnRequest{Text: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	raw, err := http.Post(ts.URL+"/v1/topics/two-sum/turns", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

}

func TestTurn_BodyTooLarge(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAdapter{})

	body, err := json.Marshal(TurnRequest{Text: strings.Repeat("x", MaxRequestBodySize+1)})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/topics/two-sum/turns", bytes.NewReader(body))
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestTurn_InFlightConflict(t *testing.T) {
	adapter := &fakeAdapter{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	_, ts := newTestServer(t, adapter)

	first := make(chan int, 1)
	go func() {
		data, _ := json.Marshal(TurnRequest{Text: "first"})
		resp, err := http.Post(ts.URL+"/v1/topics/two-sum/turns", "application/json", bytes.NewReader(data))
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()

	select {
	case <-adapter.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first turn never reached the adapter")
	}

	second := postTurn(t, ts, "two-sum", TurnRequest{Text: "second"})
	assert.Equal(t, http.StatusConflict, second.StatusCode)

	// Another topic is not blocked.
	adapter.mu.Lock()
	gate := adapter.gate
	adapter.gate = nil
	adapter.mu.Unlock()
	other := postTurn(t, ts, "valid-parentheses", TurnRequest{Text: "hi"})
	assert.Equal(t, http.StatusOK, other.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/topics/two-sum/messages", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusConflict, del.StatusCode)

	// The first Generate still waits on the original gate.
	close(gate)
	assert.Equal(t, http.StatusOK, <-first)
}

func TestMessages_Paging(t *testing.T) {
	_, ts := newTestServer(t, &fakeAdapter{})
	for i := 0; i < 3; i++ {
		resp := postTurn(t, ts, "two-sum", TurnRequest{Text: "turn"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/v1/topics/two-sum/messages?limit=2&offset=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	var page MessagesResponse
	decode(t, resp, &page)
	assert.Equal(t, 6, page.TotalCount)
	assert.Len(t, page.Messages, 2)
	assert.Equal(t, 2, page.Offset)
	assert.True(t, page.HasMore)

	for _, q := range []string{"limit=0", "offset=-1", "limit=abc"} {
		bad, err := http.Get(ts.URL + "/v1/topics/two-sum/messages?" + q)
		require.NoError(t, err)
		bad.Body.Close()
		assert.Equal(t, http.StatusBadRequest, bad.StatusCode, q)
	}
}

func TestClear(t *testing.T) {
	_, ts := newTestServer(t, &fakeAdapter{})
	resp := postTurn(t, ts, "two-sum", TurnRequest{Text: "turn"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	other := postTurn(t, ts, "other", TurnRequest{Text: "turn"})
	require.Equal(t, http.StatusOK, other.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/topics/two-sum/messages", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	for topic, want := range map[string]int{"two-sum": 0, "other": 2} {
		msgs, err := http.Get(ts.URL + "/v1/topics/" + topic + "/messages")
		require.NoError(t, err)
		var page MessagesResponse
		decode(t, msgs, &page)
		msgs.Body.Close()
		assert.Equal(t, want, page.TotalCount, topic)
	}
}

func TestTopics(t *testing.T) {
	_, ts := newTestServer(t, &fakeAdapter{})
	resp := postTurn(t, ts, "two-sum", TurnRequest{Text: "first question"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list, err := http.Get(ts.URL + "/v1/topics")
	require.NoError(t, err)
	defer list.Body.Close()
	var body struct {
		Topics []storage.TopicMeta `json:"topics"`
	}
	decode(t, list, &body)
	require.Len(t, body.Topics, 1)
	assert.Equal(t, "two-sum", body.Topics[0].Topic)
	assert.Equal(t, 2, body.Topics[0].MessageCount)
	assert.Equal(t, "first question", body.Topics[0].Preview)
}

// =============================================================================
// WEBSOCKET TESTS
// =============================================================================

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestEvents_StreamTurn(t *testing.T) {
	_, ts := newTestServer(t, &fakeAdapter{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/v1/topics/two-sum/events"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first map[string]interface{}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "state", first["type"])
	assert.Equal(t, "idle", first["state"])

	resp := postTurn(t, ts, "two-sum", TurnRequest{Text: "hint please"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var roles []model.Role
	for len(roles) < 2 {
		var ev conversation.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, "two-sum", ev.Topic)
		if ev.Type == conversation.EventMessage {
			require.NotNil(t, ev.Message)
			roles = append(roles, ev.Message.Role)
		}
	}
	assert.Equal(t, []model.Role{model.RoleUser, model.RoleAssistant}, roles)
}

func TestEvents_OriginCheck(t *testing.T) {
	_, ts := newTestServer(t, &fakeAdapter{})

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/v1/topics/two-sum/events"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "chrome-extension://abcdef")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/v1/topics/two-sum/events"), header)
	require.NoError(t, err)
	conn.Close()
}

func TestEvents_ClosedOnShutdown(t *testing.T) {
	srv, ts := newTestServer(t, &fakeAdapter{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/v1/topics/two-sum/events"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first conversation.Event
	require.NoError(t, conn.ReadJSON(&first))

	require.NoError(t, srv.Shutdown(context.Background()))

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestCORS_Preflight(t *testing.T) {
	_, ts := newTestServer(t, &fakeAdapter{})

	tests := []struct {
		origin string
		status int
		allow  string
	}{
		{"chrome-extension://abcdef", http.StatusNoContent, "chrome-extension://abcdef"},
		{"https://leetcode.com", http.StatusNoContent, "https://leetcode.com"},
		{"https://evil.example", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(http.MethodOptions, ts.URL+"/v1/topics/two-sum/turns", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", tt.origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tt.status, resp.StatusCode, tt.origin)
		assert.Equal(t, tt.allow, resp.Header.Get("Access-Control-Allow-Origin"), tt.origin)
	}
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"chrome-extension://*", "https://leetcode.com", "*.maang.in"}
	tests := map[string]bool{
		"":                          false,
		"chrome-extension://xyz":    true,
		"https://leetcode.com":      true,
		"https://leetcode.com.evil": false,
		"https://www.maang.in":      true,
		"http://localhost":          false,
	}
	for origin, want := range tests {
		assert.Equal(t, want, originAllowed(allowed, origin), origin)
	}
	assert.True(t, originAllowed([]string{"*"}, "https://anything"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))

	unlimited := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow("10.0.0.1"))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimitMiddleware(NewRateLimiter(1))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.0.2.1:1234"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mk("a"), mk("b"), mk("c"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "192.0.2.7", GetClientIP(req))

	req.RemoteAddr = "no-port"
	assert.Equal(t, "no-port", GetClientIP(req))
}

// =============================================================================
// HUB TESTS
// =============================================================================

func TestHub(t *testing.T) {
	hub := NewHub(&fakeAdapter{}, storage.NewMemoryStore())
	ctx := context.Background()

	a, err := hub.Get(ctx, "two-sum")
	require.NoError(t, err)
	b, err := hub.Get(ctx, " two-sum ")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "two-sum", a.Topic())

	_, err = hub.Get(ctx, "  ")
	assert.ErrorIs(t, err, storage.ErrInvalidTopic)

	_, err = hub.Get(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "two-sum"}, hub.Topics())

	hub.Close()
	_, err = hub.Get(ctx, "two-sum")
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.Empty(t, hub.Topics())
}

// slowStore blocks FetchAll for one topic until release is closed.
type slowStore struct {
	storage.Store
	topic   string
	entered chan struct{}
	release chan struct{}
}

func (s *slowStore) FetchAll(ctx context.Context, topic string) ([]model.ChatMessage, error) {
	if topic == s.topic {
		s.entered <- struct{}{}
		<-s.release
	}
	return s.Store.FetchAll(ctx, topic)
}

func TestHub_SlowTopicDoesNotBlockOthers(t *testing.T) {
	store := &slowStore{
		Store:   storage.NewMemoryStore(),
		topic:   "slow",
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	hub := NewHub(&fakeAdapter{}, store)
	ctx := context.Background()

	done := make(chan *conversation.Service, 1)
	go func() {
		svc, err := hub.Get(ctx, "slow")
		assert.NoError(t, err)
		done <- svc
	}()
	<-store.entered

	fast := make(chan error, 1)
	go func() {
		_, err := hub.Get(ctx, "two-sum")
		fast <- err
	}()
	select {
	case err := <-fast:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Get on another topic waited for the slow store read")
	}

	close(store.release)
	slow := <-done
	again, err := hub.Get(ctx, "slow")
	require.NoError(t, err)
	assert.Same(t, slow, again)
	assert.Equal(t, []string{"slow", "two-sum"}, hub.Topics())
}

func TestHub_ConcurrentGetSharesService(t *testing.T) {
	hub := NewHub(&fakeAdapter{}, storage.NewMemoryStore())
	ctx := context.Background()

	const n = 8
	got := make([]*conversation.Service, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc, err := hub.Get(ctx, "two-sum")
			assert.NoError(t, err)
			got[i] = svc
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		assert.Same(t, got[0], got[i])
	}
}

func strPtr(s string) *string { return &s }
