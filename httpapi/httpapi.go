// Package httpapi is the HTTP boundary between the IRC frontend and the
// core: mention endpoints (blocking and ndjson streaming), direct
// command dispatch, the join-check pull for join reminders, and
// introspection. Ignored users are rejected here, before any work runs.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nevindra/lolo"
)

// DefaultWorkers bounds concurrent blocking mention requests.
const DefaultWorkers = 4

// Server is the HTTP boundary.
type Server struct {
	orch     *lolo.Orchestrator
	store    lolo.Store
	registry *lolo.Registry
	commands *CommandSet
	logger   *slog.Logger
	botNick  string

	// workers bounds concurrent reasoning loops on the blocking endpoint.
	workers chan struct{}
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithBotNick names the bot in persisted reply messages.
func WithBotNick(nick string) Option {
	return func(s *Server) { s.botNick = nick }
}

// WithWorkers sets the blocking-endpoint concurrency bound.
func WithWorkers(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.workers = make(chan struct{}, n)
		}
	}
}

// New creates the boundary server.
func New(orch *lolo.Orchestrator, store lolo.Store, registry *lolo.Registry, commands *CommandSet, opts ...Option) *Server {
	s := &Server{
		orch:     orch,
		store:    store,
		registry: registry,
		commands: commands,
		logger:   slog.New(slog.DiscardHandler),
		workers:  make(chan struct{}, DefaultWorkers),
	}
	for _, o := range opts {
		o(s)
	}
	if s.commands == nil {
		s.commands = NewCommandSet(registry)
	}
	return s
}

// Router builds the chi router with all endpoints mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/mention", s.handleMention)
	r.Post("/mention/stream", s.handleMentionStream)
	r.Post("/command", s.handleCommand)
	r.Post("/command/stream", s.handleCommandStream)
	r.Post("/irc/join-check", s.handleJoinCheck)
	r.Get("/health", s.handleHealth)
	r.Get("/commands", s.handleCommands)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMention(w http.ResponseWriter, r *http.Request) {
	var req lolo.MentionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, lolo.MentionResponse{Status: "error", Message: "invalid request body"})
		return
	}
	if req.PermissionLevel == lolo.PermIgnored {
		writeJSON(w, http.StatusForbidden, lolo.MentionResponse{
			RequestID: req.RequestID, Status: "error", Message: "ignored user",
		})
		return
	}

	select {
	case s.workers <- struct{}{}:
		defer func() { <-s.workers }()
	case <-r.Context().Done():
		return
	}

	// The loop keeps running after a client disconnect so tool side
	// effects and the usage record still land.
	ctx := context.WithoutCancel(r.Context())
	s.logMessage(ctx, req)
	ev := s.orch.Respond(ctx, req)
	if ev.Status == lolo.EventSuccess && ev.Message != "" {
		s.logReply(ctx, req, ev.Message)
	}
	writeJSON(w, http.StatusOK, lolo.MentionResponse{
		RequestID: req.RequestID,
		Status:    string(ev.Status),
		Message:   ev.Message,
	})
}

func (s *Server) handleMentionStream(w http.ResponseWriter, r *http.Request) {
	var req lolo.MentionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, lolo.MentionResponse{Status: "error", Message: "invalid request body"})
		return
	}
	if req.PermissionLevel == lolo.PermIgnored {
		writeJSON(w, http.StatusForbidden, lolo.MentionResponse{
			RequestID: req.RequestID, Status: "error", Message: "ignored user",
		})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	ctx := context.WithoutCancel(r.Context())
	s.logMessage(ctx, req)
	for ev := range s.orch.Stream(ctx, req) {
		// A broken client drops frames; the loop runs to completion so
		// side effects and the usage record still happen.
		if err := enc.Encode(ev); err != nil {
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
		if ev.Terminal() && ev.Status == lolo.EventSuccess && ev.Message != "" {
			s.logReply(ctx, req, ev.Message)
		}
	}
}

func (s *Server) handleJoinCheck(w http.ResponseWriter, r *http.Request) {
	var req lolo.JoinCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	reminders, err := s.store.TakeJoinReminders(r.Context(), req.Nick, req.Channel, time.Now().UTC())
	if err != nil {
		s.logger.Error("join-check failed", "nick", req.Nick, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "join-check failed"})
		return
	}
	resp := lolo.JoinCheckResponse{Messages: []string{}}
	for _, rem := range reminders {
		resp.Messages = append(resp.Messages, rem.IRCLine())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCommands(w http.ResponseWriter, _ *http.Request) {
	type commandInfo struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Streaming   bool   `json:"streaming"`
	}
	var out []commandInfo
	for _, c := range s.commands.List() {
		out = append(out, commandInfo{Name: c.Name, Description: c.Description, Streaming: c.Streaming})
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": out})
}

// logMessage persists the inbound mention line so chat-history queries
// and the embedding backfill see it.
func (s *Server) logMessage(ctx context.Context, req lolo.MentionRequest) {
	if s.store == nil {
		return
	}
	_, err := s.store.StoreMessage(ctx, lolo.Message{
		Timestamp: time.Now().UTC(),
		Channel:   req.Channel,
		Nick:      req.Nick,
		Content:   req.Message,
	})
	if err != nil {
		s.logger.Warn("storing mention failed", "error", err)
	}
}

func (s *Server) logReply(ctx context.Context, req lolo.MentionRequest, reply string) {
	if s.store == nil {
		return
	}
	_, err := s.store.StoreMessage(ctx, lolo.Message{
		Timestamp: time.Now().UTC(),
		Channel:   req.Channel,
		Nick:      s.botNick,
		Content:   reply,
		IsBot:     true,
	})
	if err != nil {
		s.logger.Warn("storing reply failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// trimCommand normalizes a command name.
func trimCommand(name string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "!")))
}
