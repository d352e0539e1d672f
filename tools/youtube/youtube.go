// Package youtube exposes youtube_search over the YouTube Data API v3.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nevindra/lolo"
)

const searchEndpoint = "https://www.googleapis.com/youtube/v3/search"

// Tool implements youtube_search.
type Tool struct {
	apiKey string
	http   *http.Client
}

// Option configures the tool.
type Option func(*Tool)

// WithHTTPClient replaces the transport (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(t *Tool) { t.http = h }
}

func New(apiKey string, opts ...Option) *Tool {
	t := &Tool{
		apiKey: apiKey,
		http:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("youtube_search",
			"Search YouTube and return the top videos with titles, channels and URLs.",
			`{"type":"object","properties":{
				"query":{"type":"string","description":"Search terms"},
				"max_results":{"type":"integer","description":"How many videos, default 3, max 10"}
			},"required":["query"]}`),
	}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	if p.Query == "" {
		return lolo.ErrorResult("Error: query is required"), nil
	}
	if t.apiKey == "" {
		return lolo.ErrorResult("Error: YouTube search is not configured."), nil
	}
	n := p.MaxResults
	if n <= 0 {
		n = 3
	}
	if n > 10 {
		n = 10
	}

	q := url.Values{
		"part":       {"snippet"},
		"type":       {"video"},
		"q":          {p.Query},
		"maxResults": {strconv.Itoa(n)},
		"key":        {t.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return lolo.ToolResult{}, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return lolo.ErrorResultf("Error searching YouTube: %v", err), nil
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return lolo.ErrorResultf("Error reading YouTube response: %v", err), nil
	}
	if resp.StatusCode != http.StatusOK {
		return lolo.ErrorResultf("Error: YouTube API returned %d", resp.StatusCode), nil
	}

	var body struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
			Snippet struct {
				Title        string `json:"title"`
				ChannelTitle string `json:"channelTitle"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return lolo.ErrorResultf("Error decoding YouTube response: %v", err), nil
	}
	if len(body.Items) == 0 {
		return lolo.TextResult("No videos found."), nil
	}

	var sb strings.Builder
	for i, item := range body.Items {
		fmt.Fprintf(&sb, "%d. %s (%s) https://www.youtube.com/watch?v=%s\n",
			i+1, item.Snippet.Title, item.Snippet.ChannelTitle, item.ID.VideoID)
	}
	return lolo.TextResult(strings.TrimSpace(sb.String())), nil
}
