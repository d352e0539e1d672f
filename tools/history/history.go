// Package history exposes query_chat_history over the persisted message
// log: keyword search via SQL, semantic search via the vector index.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nevindra/lolo"
	"github.com/nevindra/lolo/kb"
)

// DefaultLimit bounds how many lines one query returns.
const DefaultLimit = 50

// Tool implements query_chat_history.
type Tool struct {
	store lolo.Store
	kb    *kb.Manager
}

func New(store lolo.Store, manager *kb.Manager) *Tool {
	return &Tool{store: store, kb: manager}
}

func (t *Tool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("query_chat_history",
			"Search past channel messages. search_type \"keyword\" matches a substring; \"semantic\" finds messages by meaning. Scope the window either with start_time/end_time or with hours_ago plus optional context_minutes around that point.",
			`{"type":"object","properties":{
				"search_type":{"type":"string","enum":["keyword","semantic"],"description":"How to search"},
				"query":{"type":"string","description":"Substring (keyword) or description of what was said (semantic)"},
				"channel":{"type":"string","description":"Channel to search; defaults to the current one. Only admins may search other channels."},
				"start_time":{"type":"string","description":"Window start, format 2006-01-02 15:04 (UTC)"},
				"end_time":{"type":"string","description":"Window end, same format"},
				"hours_ago":{"type":"number","description":"Alternative window: this many hours back from now"},
				"context_minutes":{"type":"integer","description":"With hours_ago: minutes of context either side, default 30"},
				"limit":{"type":"integer","description":"Max lines, default 50"}
			},"required":["search_type"]}`),
	}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		SearchType     string  `json:"search_type"`
		Query          string  `json:"query"`
		Channel        string  `json:"channel"`
		StartTime      string  `json:"start_time"`
		EndTime        string  `json:"end_time"`
		HoursAgo       float64 `json:"hours_ago"`
		ContextMinutes int     `json:"context_minutes"`
		Limit          int     `json:"limit"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}

	caller, ok := lolo.CallerFrom(ctx)
	if !ok {
		return lolo.ErrorResult("Permission denied: no caller identity."), nil
	}
	channel := p.Channel
	if channel == "" {
		channel = caller.Channel
	}
	if !caller.Level.IsStaff() && !strings.EqualFold(channel, caller.Channel) {
		return lolo.ErrorResult("Permission denied: you can only search the channel you are in."), nil
	}

	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = DefaultLimit
	}

	if p.SearchType == "semantic" {
		if t.kb == nil {
			return lolo.ErrorResult("Error: semantic search is not available."), nil
		}
		if p.Query == "" {
			return lolo.ErrorResult("Error: query is required for semantic search"), nil
		}
		topK := limit
		if topK > kb.MaxTopK {
			topK = kb.MaxTopK
		}
		lines, err := t.kb.SearchMessages(ctx, channel, p.Query, topK)
		if err != nil {
			return lolo.ErrorResultf("Error searching history: %v", err), nil
		}
		if len(lines) == 0 {
			return lolo.TextResult("No matching messages."), nil
		}
		return lolo.TextResult(strings.Join(lines, "\n")), nil
	}

	from, to, err := window(p.StartTime, p.EndTime, p.HoursAgo, p.ContextMinutes)
	if err != nil {
		return lolo.ErrorResultf("Error: %v", err), nil
	}

	var msgs []lolo.Message
	if p.Query == "" {
		msgs, err = t.store.MessagesBetween(ctx, channel, from, to, limit)
	} else {
		msgs, err = t.store.SearchMessagesKeyword(ctx, channel, p.Query, from, to, limit)
	}
	if err != nil {
		return lolo.ErrorResultf("Error searching history: %v", err), nil
	}
	if len(msgs) == 0 {
		return lolo.TextResult("No matching messages."), nil
	}

	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "[%s] %s: %s\n",
			m.Timestamp.UTC().Format("2006-01-02 15:04"), m.Nick, m.Content)
	}
	return lolo.TextResult(strings.TrimSpace(sb.String())), nil
}

// window resolves the two addressing modes into a [from, to] pair.
// Explicit start/end wins; hours_ago centers a context window that many
// hours back; neither means the last 24 hours.
func window(startStr, endStr string, hoursAgo float64, contextMinutes int) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	if startStr != "" || endStr != "" {
		from, err := parseTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad start_time: %v", err)
		}
		to := now
		if endStr != "" {
			to, err = parseTime(endStr)
			if err != nil {
				return time.Time{}, time.Time{}, fmt.Errorf("bad end_time: %v", err)
			}
		}
		if !to.After(from) {
			return time.Time{}, time.Time{}, fmt.Errorf("end_time must be after start_time")
		}
		return from, to, nil
	}
	if hoursAgo > 0 {
		center := now.Add(-time.Duration(hoursAgo * float64(time.Hour)))
		ctxMin := contextMinutes
		if ctxMin <= 0 {
			ctxMin = 30
		}
		half := time.Duration(ctxMin) * time.Minute
		return center.Add(-half), center.Add(half), nil
	}
	return now.Add(-24 * time.Hour), now, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05", time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q, use 2006-01-02 15:04", s)
}
