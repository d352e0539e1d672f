// Package knowledge exposes the knowledge-base tools: kb_learn ingests
// a URL, kb_search retrieves, kb_list enumerates sources, kb_forget
// removes one.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/lolo"
	"github.com/nevindra/lolo/fetch"
	"github.com/nevindra/lolo/kb"
)

// Tool implements the kb_* family.
type Tool struct {
	manager *kb.Manager
	fetcher *fetch.Fetcher
}

func New(manager *kb.Manager, fetcher *fetch.Fetcher) *Tool {
	if fetcher == nil {
		fetcher = fetch.New()
	}
	return &Tool{manager: manager, fetcher: fetcher}
}

func (t *Tool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("kb_learn",
			"Fetch a URL and store its content in the knowledge base for later retrieval. Fails if the source is already learned; kb_forget it first to refresh.",
			`{"type":"object","properties":{
				"url":{"type":"string","description":"Source URL to ingest"},
				"title":{"type":"string","description":"Optional title; derived from the page when omitted"}
			},"required":["url"]}`),
		lolo.FunctionDef("kb_search",
			"Search the knowledge base semantically and return the most relevant passages with their sources.",
			`{"type":"object","properties":{
				"query":{"type":"string","description":"What to look for"},
				"top_k":{"type":"integer","description":"Number of passages, max 10, default 5"}
			},"required":["query"]}`),
		lolo.FunctionDef("kb_list",
			"List the sources currently in the knowledge base.",
			`{"type":"object","properties":{}}`),
		lolo.FunctionDef("kb_forget",
			"Remove a learned source and all its passages from the knowledge base.",
			`{"type":"object","properties":{
				"url":{"type":"string","description":"Source URL to remove, as shown by kb_list"}
			},"required":["url"]}`),
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (lolo.ToolResult, error) {
	switch name {
	case "kb_learn":
		return t.learn(ctx, args)
	case "kb_search":
		return t.search(ctx, args)
	case "kb_list":
		return t.list(), nil
	case "kb_forget":
		return t.forget(ctx, args)
	}
	return lolo.ErrorResultf("unknown knowledge tool: %s", name), nil
}

func (t *Tool) learn(ctx context.Context, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	if p.URL == "" {
		return lolo.ErrorResult("Error: url is required"), nil
	}

	// FetchDocument, not Fetch: ingestion takes the whole document; the
	// display cap and its truncation marker must never reach the index.
	page, err := t.fetcher.FetchDocument(ctx, p.URL)
	if err != nil {
		return lolo.ErrorResultf("Error fetching %s: %v", p.URL, err), nil
	}
	if strings.TrimSpace(page.Content) == "" {
		return lolo.ErrorResultf("Error: no readable content at %s", p.URL), nil
	}
	title := p.Title
	if title == "" {
		title = page.Title
	}

	chunks, err := t.manager.Learn(ctx, p.URL, title, page.Content)
	if err != nil {
		return lolo.ErrorResultf("Error learning %s: %v", p.URL, err), nil
	}
	return lolo.TextResult(fmt.Sprintf("Learned %q (%d passages) from %s", title, chunks, p.URL)), nil
}

func (t *Tool) search(ctx context.Context, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	if p.Query == "" {
		return lolo.ErrorResult("Error: query is required"), nil
	}
	if p.TopK <= 0 {
		p.TopK = 5
	}

	results, hint, err := t.manager.Search(ctx, p.Query, p.TopK)
	if err != nil {
		return lolo.ErrorResultf("Error searching knowledge base: %v", err), nil
	}
	if len(results) == 0 {
		return lolo.TextResult(hint), nil
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. [%s] %s\n%s\n\n", i+1, r.Title, r.SourceURL, r.Text)
	}
	return lolo.TextResult(strings.TrimSpace(sb.String())), nil
}

func (t *Tool) list() lolo.ToolResult {
	sources := t.manager.List()
	if len(sources) == 0 {
		return lolo.TextResult("The knowledge base is empty.")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d source(s):\n", len(sources))
	for _, s := range sources {
		fmt.Fprintf(&sb, "- %s (%d passages) %s\n", s.Title, s.Chunks, s.URL)
	}
	return lolo.TextResult(strings.TrimSpace(sb.String()))
}

func (t *Tool) forget(ctx context.Context, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	removed, err := t.manager.Forget(ctx, p.URL)
	if err != nil {
		return lolo.ErrorResultf("Error forgetting %s: %v", p.URL, err), nil
	}
	if removed == 0 {
		return lolo.TextResult(fmt.Sprintf("Nothing learned from %s", p.URL)), nil
	}
	return lolo.TextResult(fmt.Sprintf("Forgot %s (%d passages removed)", p.URL, removed)), nil
}
