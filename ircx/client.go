// Package ircx is the HTTP client for the IRC frontend's callback
// endpoint. The core never speaks the IRC protocol itself; presence
// checks, message delivery and operator actions are proxied through the
// frontend process.
package ircx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nevindra/lolo"
)

// Client talks to the IRC frontend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the transport (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the frontend at baseURL. An empty baseURL
// yields a client whose calls all fail, which keeps the reminder
// scheduler retry path working when the frontend is down or unset.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type executeRequest struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
	Nick    string `json:"nick,omitempty"`
	Message string `json:"message,omitempty"`
	Command string `json:"command,omitempty"`
	Args    string `json:"args,omitempty"`
}

type executeResponse struct {
	OK     bool   `json:"ok"`
	Online bool   `json:"online"`
	Output string `json:"output"`
	Error  string `json:"error"`
}

// UserStatus reports whether nick is currently present in channel.
func (c *Client) UserStatus(ctx context.Context, channel, nick string) (bool, error) {
	resp, err := c.execute(ctx, executeRequest{Action: "user_status", Channel: channel, Nick: nick})
	if err != nil {
		return false, err
	}
	return resp.Online, nil
}

// SendMessage delivers one line to a channel or nick.
func (c *Client) SendMessage(ctx context.Context, target, message string) error {
	_, err := c.execute(ctx, executeRequest{Action: "send_message", Channel: target, Message: message})
	return err
}

// Command runs an IRC operator action (kick, ban, topic, whois, ...) on
// the frontend and returns its textual output. Permission gating is the
// caller's job; the frontend trusts the core.
func (c *Client) Command(ctx context.Context, channel, command, args string) (string, error) {
	resp, err := c.execute(ctx, executeRequest{Action: "command", Channel: channel, Command: command, Args: args})
	if err != nil {
		return "", err
	}
	return resp.Output, nil
}

func (c *Client) execute(ctx context.Context, req executeRequest) (*executeResponse, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("ircx: no callback url configured")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ircx: marshal: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/irc/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ircx: %s: %w", req.Action, err)
	}
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("ircx: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &lolo.ErrHTTP{Status: httpResp.StatusCode, Body: string(body)}
	}
	var resp executeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ircx: decode response: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("ircx: %s failed: %s", req.Action, resp.Error)
	}
	return &resp, nil
}
