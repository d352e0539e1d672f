// Package paste uploads text and binary artifacts to the paste service
// and returns shareable URLs. Image tools use it so raw bytes never
// travel through IRC.
package paste

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nevindra/lolo"
)

// Client talks to the paste service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the transport (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithAPIKey sets the bearer credential sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// New creates a client for the paste service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Create uploads content and returns its URL. expiry of zero means the
// service default.
func (c *Client) Create(ctx context.Context, content, syntax string, expiry time.Duration) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("paste: empty content")
	}
	body := struct {
		Content     string `json:"content"`
		Syntax      string `json:"syntax,omitempty"`
		ExpiryHours int    `json:"expiry_hours,omitempty"`
	}{Content: content, Syntax: syntax, ExpiryHours: int(expiry.Hours())}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("paste: marshal: %w", err)
	}
	return c.post(ctx, "/api/paste", "application/json", bytes.NewReader(payload))
}

// Upload stores raw bytes (images, video) under the given content type
// and returns the URL.
func (c *Client) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("paste: empty upload")
	}
	return c.post(ctx, "/api/upload", contentType, bytes.NewReader(data))
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("paste: no service url configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("paste: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("paste: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &lolo.ErrHTTP{Status: resp.StatusCode, Body: string(data)}
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.URL == "" {
		return "", fmt.Errorf("paste: unexpected response %q", string(data))
	}
	return out.URL, nil
}
