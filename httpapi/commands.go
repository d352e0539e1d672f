package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/nevindra/lolo"
)

// Handler runs one direct command, outside the reasoning loop. It may
// emit multiple frames by calling emit; the final return value becomes
// the terminal frame.
type Handler func(ctx context.Context, req lolo.CommandRequest, emit func(string)) (string, error)

// Command is one registered direct command.
type Command struct {
	Name        string
	Description string
	// Streaming marks handlers that emit intermediate frames.
	Streaming bool
	Run       Handler
}

// CommandSet maps command names to handlers. Built at startup,
// read-only afterwards.
type CommandSet struct {
	byName map[string]Command
}

// NewCommandSet creates a set with the built-in commands plus one
// tool-backed handler per registered tool function. Tool commands take
// the raw arg string as JSON arguments.
func NewCommandSet(registry *lolo.Registry) *CommandSet {
	s := &CommandSet{byName: make(map[string]Command)}
	s.Register(Command{
		Name:        "ping",
		Description: "liveness check",
		Run: func(context.Context, lolo.CommandRequest, func(string)) (string, error) {
			return "pong", nil
		},
	})
	if registry != nil {
		s.Register(Command{
			Name:        "tools",
			Description: "list available tools",
			Run: func(context.Context, lolo.CommandRequest, func(string)) (string, error) {
				return strings.Join(registry.Names(), ", "), nil
			},
		})
		for _, name := range registry.Names() {
			s.Register(toolCommand(registry, name))
		}
	}
	return s
}

// Register adds a command, replacing any previous one with the name.
func (s *CommandSet) Register(c Command) {
	s.byName[trimCommand(c.Name)] = c
}

// Lookup finds a command by name.
func (s *CommandSet) Lookup(name string) (Command, bool) {
	c, ok := s.byName[trimCommand(name)]
	return c, ok
}

// List returns all commands sorted by name.
func (s *CommandSet) List() []Command {
	out := make([]Command, 0, len(s.byName))
	for _, c := range s.byName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// toolCommand wraps one registry tool function as a direct command.
// Args: a single JSON object, or empty for parameterless tools.
func toolCommand(registry *lolo.Registry, name string) Command {
	return Command{
		Name:        name,
		Description: "tool: " + name,
		Run: func(ctx context.Context, req lolo.CommandRequest, _ func(string)) (string, error) {
			raw := strings.TrimSpace(strings.Join(req.Args, " "))
			if raw == "" {
				raw = "{}"
			}
			if !json.Valid([]byte(raw)) {
				return "", fmt.Errorf("arguments must be a JSON object")
			}
			ctx = lolo.WithCaller(ctx, lolo.Caller{
				RequestID: req.RequestID,
				Nick:      req.Nick,
				Channel:   req.Channel,
				Level:     req.Level,
			})
			result, err := registry.Execute(ctx, name, json.RawMessage(raw))
			if err != nil {
				return "", err
			}
			switch result.Kind {
			case lolo.ResultNull:
				return lolo.NullMarker, nil
			case lolo.ResultStatus:
				return lolo.StatusMarker + result.Content, nil
			}
			return result.Content, nil
		},
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	req, cmd, ok := s.decodeCommand(w, r)
	if !ok {
		return
	}
	out, err := cmd.Run(r.Context(), req, func(string) {})
	resp := lolo.CommandResponse{RequestID: req.RequestID, Status: "success", Message: out}
	if err != nil {
		resp.Status = "error"
		resp.Message = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCommandStream(w http.ResponseWriter, r *http.Request) {
	req, cmd, ok := s.decodeCommand(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	emit := func(msg string) {
		_ = enc.Encode(lolo.CommandResponse{
			RequestID: req.RequestID, Status: "processing", Message: msg, Streaming: true,
		})
		if flusher != nil {
			flusher.Flush()
		}
	}

	out, err := cmd.Run(r.Context(), req, emit)
	final := lolo.CommandResponse{RequestID: req.RequestID, Status: "success", Message: out}
	if err != nil {
		final.Status = "error"
		final.Message = err.Error()
	}
	_ = enc.Encode(final)
	if flusher != nil {
		flusher.Flush()
	}
}

// decodeCommand parses the request and resolves the handler, writing
// the error response itself when something is off.
func (s *Server) decodeCommand(w http.ResponseWriter, r *http.Request) (lolo.CommandRequest, Command, bool) {
	var req lolo.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, lolo.CommandResponse{Status: "error", Message: "invalid request body"})
		return req, Command{}, false
	}
	if req.Level == lolo.PermIgnored {
		writeJSON(w, http.StatusForbidden, lolo.CommandResponse{
			RequestID: req.RequestID, Status: "error", Message: "ignored user",
		})
		return req, Command{}, false
	}
	cmd, ok := s.commands.Lookup(req.Command)
	if !ok {
		writeJSON(w, http.StatusNotFound, lolo.CommandResponse{
			RequestID: req.RequestID, Status: "error",
			Message: fmt.Sprintf("unknown command %q", req.Command),
		})
		return req, Command{}, false
	}
	return req, cmd, true
}
