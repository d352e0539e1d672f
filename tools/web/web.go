// Package web exposes the web-facing tools: the provider-native
// web_search definition and fetch_url backed by the fetch extractor.
package web

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nevindra/lolo"
	"github.com/nevindra/lolo/fetch"
)

// Search advertises the provider-side web search. It is never executed
// locally; the provider runs it and returns citations.
type Search struct {
	// AllowedDomains restricts results when non-empty.
	AllowedDomains []string
}

func (s *Search) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{{Type: "web_search"}}
}

func (s *Search) Execute(context.Context, string, json.RawMessage) (lolo.ToolResult, error) {
	return lolo.ErrorResult("web_search runs on the provider side"), nil
}

// FetchTool implements fetch_url.
type FetchTool struct {
	fetcher *fetch.Fetcher
}

func NewFetch(f *fetch.Fetcher) *FetchTool {
	if f == nil {
		f = fetch.New()
	}
	return &FetchTool{fetcher: f}
}

func (t *FetchTool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("fetch_url",
			"Fetch a URL and return its content: web pages as readable text, PDFs as page-tagged text, code files as-is. Long content is cut at 25000 characters with [TRUNCATED]; pass search_term to jump to a specific section or function on a re-fetch.",
			`{"type":"object","properties":{
				"url":{"type":"string","description":"http(s) URL to fetch"},
				"search_term":{"type":"string","description":"Optional text to locate; the returned window starts just before its first occurrence"}
			},"required":["url"]}`),
	}
}

func (t *FetchTool) Execute(ctx context.Context, _ string, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		URL        string `json:"url"`
		SearchTerm string `json:"search_term"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	if p.URL == "" {
		return lolo.ErrorResult("Error: url is required"), nil
	}

	page, err := t.fetcher.Fetch(ctx, p.URL, p.SearchTerm)
	if err != nil {
		return lolo.ErrorResultf("Error fetching %s: %v", p.URL, err), nil
	}
	if page.Content == "" {
		return lolo.TextResult(fmt.Sprintf("No readable content at %s", p.URL)), nil
	}
	if page.Title != "" {
		return lolo.TextResult(fmt.Sprintf("Title: %s\n\n%s", page.Title, page.Content)), nil
	}
	return lolo.TextResult(page.Content), nil
}
