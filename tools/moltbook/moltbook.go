// Package moltbook exposes moltbook_post, publishing to the Moltbook
// service. Admin-gated because posts appear under the bot's identity.
package moltbook

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

// Tool implements moltbook_post.
type Tool struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures the tool.
type Option func(*Tool)

// WithHTTPClient replaces the transport (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(t *Tool) { t.http = h }
}

func New(baseURL, apiKey string, opts ...Option) *Tool {
	t := &Tool{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("moltbook_post",
			"Publish a post to Moltbook under the bot's account. Admin only.",
			`{"type":"object","properties":{
				"title":{"type":"string","description":"Post title"},
				"content":{"type":"string","description":"Post body"},
				"submolt":{"type":"string","description":"Community to post in, default general"}
			},"required":["title","content"]}`),
	}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (lolo.ToolResult, error) {
	caller, ok := lolo.CallerFrom(ctx)
	if !ok || !caller.Level.IsStaff() {
		return lolo.ErrorResult("Permission denied: moltbook_post needs admin."), nil
	}

	var p struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		Submolt string `json:"submolt"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	if p.Title == "" || p.Content == "" {
		return lolo.ErrorResult("Error: title and content are required"), nil
	}
	if t.baseURL == "" || t.apiKey == "" {
		return lolo.ErrorResult("Error: Moltbook is not configured."), nil
	}
	if p.Submolt == "" {
		p.Submolt = "general"
	}

	payload, err := json.Marshal(map[string]string{
		"title":   p.Title,
		"content": p.Content,
		"submolt": p.Submolt,
	})
	if err != nil {
		return lolo.ToolResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/v1/posts", bytes.NewReader(payload))
	if err != nil {
		return lolo.ToolResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.http.Do(req)
	if err != nil {
		return lolo.ErrorResultf("Error posting to Moltbook: %v", err), nil
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return lolo.ErrorResultf("Error: Moltbook returned %d: %s", resp.StatusCode, string(data)), nil
	}

	var out struct {
		URL string `json:"url"`
		ID  string `json:"id"`
	}
	_ = json.Unmarshal(data, &out)
	if out.URL != "" {
		return lolo.TextResult(fmt.Sprintf("Posted: %s", out.URL)), nil
	}
	return lolo.TextResult("Posted to m/" + p.Submolt + "."), nil
}
