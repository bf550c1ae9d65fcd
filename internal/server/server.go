// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jeranaias/whisper/internal/conversation"
	"github.com/jeranaias/whisper/internal/hostctx"
	"github.com/jeranaias/whisper/internal/logging"
	"github.com/jeranaias/whisper/internal/model"
	"github.com/jeranaias/whisper/internal/provider"
	"github.com/jeranaias/whisper/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8765"

	// MaxRequestBodySize caps turn request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// Version is the bridge API version.
	Version = "1.0.0"

	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 10 * time.Second
)

// ============================================================================
// SERVER STATS
// ============================================================================

// Stats counts bridge activity.
type Stats struct {
	requests  atomic.Int64
	turns     atomic.Int64
	rejected  atomic.Int64
	startTime time.Time
}

func newStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// Uptime returns how long the server has been running.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// ============================================================================
// SERVER
// ============================================================================

// Config configures the bridge.
type Config struct {
	Addr              string
	AllowedOrigins    []string
	RequestsPerMinute int

	// Keys reports the selected model and which models have credentials
	// on /v1/models. Optional.
	Keys conversation.KeyStore
}

// Server is the HTTP and websocket bridge in front of a hub.
type Server struct {
	cfg      Config
	hub      *Hub
	mux      *http.ServeMux
	server   *http.Server
	upgrader websocket.Upgrader
	stats    *Stats
}

// New creates a server for hub.
func New(cfg Config, hub *Hub) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{
		cfg:   cfg,
		hub:   hub,
		mux:   http.NewServeMux(),
		stats: newStats(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// checkOrigin allows non-browser clients, which send no Origin, and
// browsers on an allowed origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || originAllowed(s.cfg.AllowedOrigins, origin)
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/models", s.handleModels)
	s.mux.HandleFunc("GET /v1/topics", s.handleTopics)
	s.mux.HandleFunc("POST /v1/topics/{topic}/turns", s.handleTurn)
	s.mux.HandleFunc("GET /v1/topics/{topic}/messages", s.handleMessages)
	s.mux.HandleFunc("DELETE /v1/topics/{topic}/messages", s.handleClear)
	s.mux.HandleFunc("GET /v1/topics/{topic}/events", s.handleEvents)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		s.countRequests,
		LoggingMiddleware(),
		SecurityHeadersMiddleware(),
		CORSMiddleware(DefaultCORSConfig(s.cfg.AllowedOrigins)),
		RateLimitMiddleware(NewRateLimiter(s.cfg.RequestsPerMinute)),
	)(s.mux)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.stats.requests.Add(1)
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// WIRE TYPES
// ============================================================================

// TurnRequest is the body of POST /v1/topics/{topic}/turns. Problem,
// language and code are what an extension scrapes from the page. When
// problem is empty the hub's problem source is used.
type TurnRequest struct {
	Text     string  `json:"text"`
	Problem  string  `json:"problem,omitempty"`
	Language string  `json:"language,omitempty"`
	Code     *string `json:"code,omitempty"`
}

// TurnResponse carries the assistant reply.
type TurnResponse struct {
	Topic   string            `json:"topic"`
	Message model.ChatMessage `json:"message"`
}

// MessagesResponse is a page of history.
type MessagesResponse struct {
	Topic string `json:"topic"`
	storage.Page
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// ModelEntry is one row of /v1/models. The key itself is never returned.
type ModelEntry struct {
	provider.ModelInfo
	Selected   bool `json:"selected"`
	Configured bool `json:"configured"`
}

// ModelsResponse lists the catalog.
type ModelsResponse struct {
	Object string       `json:"object"`
	Data   []ModelEntry `json:"data"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Topics   int    `json:"topics"`
	Requests int64  `json:"requests"`
	Turns    int64  `json:"turns"`
	Rejected int64  `json:"rejected"`
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  Version,
		Uptime:   s.stats.Uptime().Round(time.Second).String(),
		Topics:   len(s.hub.Topics()),
		Requests: s.stats.requests.Load(),
		Turns:    s.stats.turns.Load(),
		Rejected: s.stats.rejected.Load(),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	var selected string
	if s.cfg.Keys != nil {
		selected = s.cfg.Keys.Selection()
	}
	resp := ModelsResponse{Object: "list"}
	for _, m := range provider.Catalog() {
		entry := ModelEntry{ModelInfo: m, Selected: m.ID == selected}
		if s.cfg.Keys != nil {
			_, entry.Configured = s.cfg.Keys.Credentials(m.ID)
		}
		resp.Data = append(resp.Data, entry)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.hub.Store().Topics(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"topics": topics})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", MaxRequestBodySize))
			return
		}
		logging.Debug("server: invalid turn body: %v", err)
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}

	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	var opts []conversation.TurnOption
	if strings.TrimSpace(req.Problem) != "" {
		opts = append(opts, conversation.WithProblem(hostctx.Problem{
			Topic:     svc.Topic(),
			Statement: req.Problem,
			Language:  req.Language,
		}))
	}
	if req.Code != nil {
		opts = append(opts, conversation.WithCode(*req.Code))
	}

	reply, err := svc.SendTurn(r.Context(), req.Text, opts...)
	switch {
	case err == nil:
		s.stats.turns.Add(1)
		writeJSON(w, http.StatusOK, TurnResponse{Topic: svc.Topic(), Message: reply})
	case errors.Is(err, conversation.ErrEmptyTurn):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrTurnInFlight):
		s.stats.rejected.Add(1)
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeStoreError(w, err)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", conversation.DefaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := svc.LoadPage(r.Context(), limit, offset)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{
		Topic:   svc.Topic(),
		Page:    page,
		Offset:  offset,
		HasMore: page.HasMore(offset),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	if err := svc.ClearConversation(r.Context()); err != nil {
		if errors.Is(err, conversation.ErrTurnInFlight) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams the topic's service events over a websocket. The
// first frame is the current state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logging.Warn("server: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := svc.Subscribe()
	defer unsubscribe()

	// The reader only services control frames and notices the close.
	done := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v interface{}) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}

	if err := write(conversation.Event{Type: conversation.EventState, Topic: svc.Topic(), State: svc.State()}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := write(ev); err != nil {
				logging.Debug("server: websocket write: %v", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// service resolves the {topic} path value, writing an error on failure.
func (s *Server) service(w http.ResponseWriter, r *http.Request) (*conversation.Service, bool) {
	svc, err := s.hub.Get(r.Context(), r.PathValue("topic"))
	if err != nil {
		s.writeStoreError(w, err)
		return nil, false
	}
	return svc, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidTopic), errors.Is(err, storage.ErrInvalidPage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrHubClosed), errors.Is(err, storage.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logging.Error("server: %v", err)
		writeError(w, http.StatusInternalServerError, "storage error")
	}
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe listens on the configured address. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	logging.Info("SERVER_START | addr=%s version=%s", ln.Addr(), Version)
	return s.server.Serve(ln)
}

// Shutdown closes websocket streams, then stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	logging.Info("SERVER_SHUTDOWN | turns=%d requests=%d", s.stats.turns.Load(), s.stats.requests.Load())
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}
